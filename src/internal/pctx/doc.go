// Package pctx creates the contexts used throughout seekidx.
//
// Contexts carry the logger (see package log).  Binaries start from Background; tests start
// from TestContext.  Long-running or nameable operations derive a named child with Child:
//
//	w := index.NewWriter(res, opts...)
//	err := w.Open(pctx.Child(ctx, "writer", pctx.WithFields(zap.String("resource", res.Name()))))
//
// The convention is oneCamelCaseWord for names, and for parents to name their children.
package pctx
