package randutil

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/docker/go-units"
	"github.com/stretchr/testify/require"
)

var random = rand.New(rand.NewSource(time.Now().UTC().UnixNano()))

func BenchmarkLettersReader(b *testing.B) {
	b.SetBytes(100 * units.MB)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := &bytes.Buffer{}
		_, err := io.Copy(buf, NewLettersReader(random, 100*units.MB))
		require.NoError(b, err)
	}
}

// testLetters ensures that every expected letter appears in the generated output.  1000 letters
// is enough in practice; if this ever flakes, generate more.
func testLetters(t *testing.T, buf []byte) {
	t.Helper()
	got := map[byte]int{}
	for _, b := range buf {
		got[b]++
	}
	for _, letter := range letters {
		if n := got[letter]; n < 1 {
			t.Errorf("letter %s never appears", string(letter))
		}
	}
}

func TestLetters(t *testing.T) {
	testLetters(t, Letters(random, 1000))
}

func TestLettersReader(t *testing.T) {
	buf, err := io.ReadAll(NewLettersReader(random, 1000))
	require.NoError(t, err, "should have read bytes from the letters reader")
	require.Len(t, buf, 1000)
	testLetters(t, buf)
}

func TestBytes(t *testing.T) {
	require.Len(t, Bytes(random, 33), 33)
	require.Empty(t, Bytes(random, 0))
}

func TestIncreasing(t *testing.T) {
	vs := Increasing(random, 100, 10, 5)
	require.Len(t, vs, 100)
	prev := uint64(10)
	for _, v := range vs {
		require.Greater(t, v, prev)
		require.LessOrEqual(t, v-prev, uint64(5))
		prev = v
	}
	require.Len(t, Increasing(random, 3, 0, 0), 3)
}
