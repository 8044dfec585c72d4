package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pachyderm/seekidx/src/internal/backend"
	"github.com/pachyderm/seekidx/src/internal/cmdutil"
	"github.com/pachyderm/seekidx/src/internal/diag"
	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/index"
	"github.com/pachyderm/seekidx/src/internal/log"
)

// openReader opens a reader on rawURL, retrying while a writer holds it if wait is set.
func openReader(ctx context.Context, rawURL string, wait bool, sink *diag.Sink) (backend.Resource, *index.Reader, error) {
	res, err := backend.Open(ctx, rawURL, configFrom(ctx))
	if err != nil {
		return nil, nil, err
	}
	r := index.NewReader(res, index.WithDiagnostics(sink))
	if wait {
		err = index.RetryOpen(ctx, r, nil)
	} else {
		err = r.Open(ctx)
	}
	if err != nil {
		return nil, nil, err
	}
	return res, r, nil
}

// fingerprint hashes the raw bytes of res.
func fingerprint(ctx context.Context, res backend.Resource) (uint64, error) {
	src, err := res.OpenForRead(ctx)
	if err != nil {
		return 0, errors.EnsureStack(err)
	}
	defer src.Close() //nolint:errcheck
	h := xxh3.New()
	if _, err := io.Copy(h, src); err != nil {
		return 0, errors.EnsureStack(err)
	}
	return h.Sum64(), nil
}

func inspectCmd() *cobra.Command {
	var (
		entries bool
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <url>",
		Short: "Print the header of an index, and optionally its entries.",
		RunE: cmdutil.RunFixedArgs(1, func(cmd *cobra.Command, args []string) (retErr error) {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			res, r, err := openReader(ctx, args[0], wait, nil)
			if err != nil {
				return err
			}
			defer func() { errors.JoinInto(&retErr, r.Close(ctx)) }()
			sum, err := fingerprint(ctx, res)
			if err != nil {
				return err
			}
			h := r.Header()
			fmt.Fprintf(out, "resource:  %s\n", res.Name())
			fmt.Fprintf(out, "xxh3:      %016x\n", sum)
			fmt.Fprintf(out, "version:   %d\n", h.Version)
			fmt.Fprintf(out, "entries:   %d\n", h.NumberOfEntries)
			fmt.Fprintf(out, "records:   %d\n", h.NumberOfRecordsIndexed)
			if !entries {
				return nil
			}
			var i int
			return r.Iterate(ctx, func(e index.Entry) error {
				fmt.Fprintf(out, "%d\t%s\n", i, e)
				i++
				return nil
			})
		}),
	}
	cmd.Flags().BoolVar(&entries, "entries", false, "Print every entry.")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for a writer to release the index.")
	return cmd
}

func verifyCmd() *cobra.Command {
	var parallelism int
	cmd := &cobra.Command{
		Use:   "verify <url>...",
		Short: "Check that indexes are complete and well formed.",
		RunE: cmdutil.RunBoundedArgs(1, 1<<20, func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			sinks := make([]*diag.Sink, len(args))
			summaries := make([]*index.Summary, len(args))
			eg, ctx := errgroup.WithContext(ctx)
			eg.SetLimit(parallelism)
			for i, arg := range args {
				i, arg := i, arg
				sinks[i] = diag.New()
				eg.Go(func() error {
					res, err := backend.Open(ctx, arg, configFrom(ctx))
					if err != nil {
						sinks[i].ReportError(ctx, "verify", err)
						return nil
					}
					// A failed verification is reported with the others, not as an abort.
					summaries[i], _ = index.Verify(ctx, res, index.WithDiagnostics(sinks[i])) //nolint:errcheck
					return nil
				})
			}
			if err := eg.Wait(); err != nil {
				return errors.EnsureStack(err)
			}
			var all *diag.Sink
			for i, arg := range args {
				all = diag.Merge(all, sinks[i])
				if s := summaries[i]; s != nil {
					fmt.Fprintf(out, "%s: ok, %d entries (%d with state, %s of state), %d records, %s\n",
						arg, s.Header.NumberOfEntries, s.EntriesWithState, units.HumanSize(float64(s.StateBytes)),
						s.Header.NumberOfRecordsIndexed, units.HumanSize(float64(s.Size)))
				}
			}
			if all.Len() > 0 {
				for _, m := range all.Messages() {
					fmt.Fprintf(out, "%s\n", m)
				}
				return errors.Errorf("%d of %d indexes failed verification", len(args)-countOK(summaries), len(args))
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&parallelism, "parallelism", 4, "How many indexes to verify at once.")
	return cmd
}

func countOK(summaries []*index.Summary) int {
	var n int
	for _, s := range summaries {
		if s != nil {
			n++
		}
	}
	return n
}

func lookupCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "lookup <url> <record>",
		Short: "Print the checkpoint to resume from to reach a record.",
		RunE: cmdutil.RunFixedArgs(2, func(cmd *cobra.Command, args []string) (retErr error) {
			ctx := cmd.Context()
			record, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "parse record %q", args[1])
			}
			_, r, err := openReader(ctx, args[0], wait, nil)
			if err != nil {
				return err
			}
			defer func() { errors.JoinInto(&retErr, r.Close(ctx)) }()
			e, ok, err := r.Lookup(ctx, record)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("no checkpoint precedes record %d", record)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", e)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for a writer to release the index.")
	return cmd
}

func copyCmd() *cobra.Command {
	var (
		overwrite bool
		wait      bool
	)
	cmd := &cobra.Command{
		Use:   "copy <src> <dst>",
		Short: "Copy an index, checking it on the way.",
		Long:  "Copy an index entry by entry, holding a shared lock on the source and an exclusive lock on the destination.  A source that fails to read leaves the destination incomplete.",
		RunE: cmdutil.RunFixedArgs(2, func(cmd *cobra.Command, args []string) (retErr error) {
			ctx := cmd.Context()
			sink := diag.New()
			defer func() {
				if retErr != nil && sink.Len() > 0 {
					log.Info(ctx, "copy failed", zap.Stringer("diagnostics", sink))
				}
			}()
			_, r, err := openReader(ctx, args[0], wait, sink)
			if err != nil {
				return err
			}
			defer func() { errors.JoinInto(&retErr, r.Close(ctx)) }()
			dst, err := backend.Open(ctx, args[1], configFrom(ctx))
			if err != nil {
				return err
			}
			opts := []index.Option{index.WithDiagnostics(sink)}
			if overwrite {
				opts = append(opts, index.WithOverwrite())
			}
			w := index.NewWriter(dst, opts...)
			if wait {
				err = index.RetryOpen(ctx, w, nil)
			} else {
				err = w.Open(ctx)
			}
			if err != nil {
				return err
			}
			if err := copyEntries(ctx, r, w); err != nil {
				errors.JoinInto(&err, w.Abort(ctx))
				return err
			}
			if err := w.Close(ctx); err != nil {
				return err
			}
			h := w.Header()
			fmt.Fprintf(cmd.OutOrStdout(), "copied %d entries to %s\n", h.NumberOfEntries, dst.Name())
			return nil
		}),
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace the destination if it exists.")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for locks instead of failing.")
	return cmd
}

func copyEntries(ctx context.Context, r *index.Reader, w *index.Writer) error {
	h := r.Header()
	if err := w.WriteHeader(index.Header{Version: h.Version}); err != nil {
		return err
	}
	if err := r.Iterate(ctx, w.WriteEntry); err != nil {
		return err
	}
	return w.SetRecordCount(h.NumberOfRecordsIndexed)
}
