// Package randutil generates random test data.
package randutil

import (
	"io"
	"math/rand"

	"modernc.org/mathutil"
)

var letters = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

// Bytes returns n random bytes over the full byte range.
func Bytes(random *rand.Rand, n int) []byte {
	bs := make([]byte, n)
	random.Read(bs) //nolint:errcheck
	return bs
}

// Letters returns n random ASCII letters.
func Letters(random *rand.Rand, n int) []byte {
	bs := make([]byte, n)
	for i := range bs {
		bs[i] = letters[random.Intn(len(letters))]
	}
	return bs
}

// Increasing returns n strictly increasing values, the first at least start, each step between
// 1 and maxStep.
func Increasing(random *rand.Rand, n int, start uint64, maxStep int) []uint64 {
	maxStep = mathutil.Max(maxStep, 1)
	vs := make([]uint64, n)
	v := start
	for i := range vs {
		v += uint64(random.Intn(maxStep)) + 1
		vs[i] = v
	}
	return vs
}

type lettersReader struct {
	random *rand.Rand
	n      int64
}

// NewLettersReader returns a reader of n random letters.
func NewLettersReader(random *rand.Rand, n int64) io.Reader {
	return &lettersReader{
		random: random,
		n:      n,
	}
}

func (lr *lettersReader) Read(data []byte) (int, error) {
	if lr.n == 0 {
		return 0, io.EOF
	}
	size := int(mathutil.MinInt64(lr.n, int64(len(data))))
	for i := 0; i < size; i++ {
		data[i] = letters[lr.random.Intn(len(letters))]
	}
	lr.n -= int64(size)
	return size, nil
}
