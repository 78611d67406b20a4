package npy

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.npy")
	data := []float32{1, 2, 3, 4, 5, 6}
	require.NoError(t, Write(path, []int{2, 3}, data))

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []int{2, 3}, f.Shape())
	assert.Equal(t, 6, f.Len())
	assert.Equal(t, Float32, f.DType())
	assert.Equal(t, data, f.ReadAll())

	view, err := f.Float32View()
	require.NoError(t, err)
	assert.Equal(t, data, view)
}

func TestWriteOneDimensional(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.npy")
	require.NoError(t, Write(path, []int{4}, []float32{9, 8, 7, 6}))

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []int{4}, f.Shape())
	assert.Equal(t, []float32{9, 8, 7, 6}, f.ReadAll())
}

func TestWriteShapeMismatch(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "bad.npy"), []int{3}, []float32{1, 2})
	assert.Error(t, err)
}

func TestOpenBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.npy")
	require.NoError(t, os.WriteFile(path, []byte("not a numpy file at all"), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestOpenFortranOrderRejected(t *testing.T) {
	path := writeRaw(t, "<f4", "True", "(2, 2)", make([]byte, 16))
	_, err := Open(path)
	assert.ErrorIs(t, err, ErrFortranOrder)
}

func TestOpenUnsupportedDType(t *testing.T) {
	path := writeRaw(t, "<i8", "False", "(2,)", make([]byte, 16))
	_, err := Open(path)
	assert.ErrorIs(t, err, ErrUnsupportedDType)
}

func TestFloat64Converted(t *testing.T) {
	payload := make([]byte, 3*8)
	for i, v := range []float64{1.5, -2.25, 3.125} {
		binary.LittleEndian.PutUint64(payload[i*8:], math.Float64bits(v))
	}
	path := writeRaw(t, "<f8", "False", "(3,)", payload)

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, Float64, f.DType())
	assert.Equal(t, []float32{1.5, -2.25, 3.125}, f.ReadAll())

	_, err = f.Float32View()
	assert.ErrorIs(t, err, ErrNoView)
}

func TestTruncatedPayload(t *testing.T) {
	path := writeRaw(t, "<f4", "False", "(10, 10)", make([]byte, 8))
	_, err := Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

// writeRaw builds an .npy file byte-by-byte so tests can produce headers the
// Write function would refuse to emit.
func writeRaw(t *testing.T, descr, fortran, shape string, payload []byte) string {
	t.Helper()
	header := "{'descr': '" + descr + "', 'fortran_order': " + fortran + ", 'shape': " + shape + ", }"
	total := 10 + len(header) + 1
	pad := (64 - total%64) % 64
	header += strings.Repeat(" ", pad) + "\n"

	buf := []byte(magic)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(header)))
	buf = append(buf, header...)
	buf = append(buf, payload...)

	path := filepath.Join(t.TempDir(), "raw.npy")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}
