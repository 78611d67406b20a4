// Package npy reads and writes NumPy .npy array files. Files are opened
// read-only and memory-mapped; float32 payloads can be viewed without
// copying for as long as the file stays open.
package npy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/exp/mmap"
)

var (
	// ErrBadMagic indicates the file does not start with the .npy magic string.
	ErrBadMagic = errors.New("npy: bad magic")
	// ErrUnsupportedVersion indicates a format version other than 1.0 or 2.0.
	ErrUnsupportedVersion = errors.New("npy: unsupported format version")
	// ErrUnsupportedDType indicates a dtype other than little-endian f4/f8.
	ErrUnsupportedDType = errors.New("npy: unsupported dtype")
	// ErrFortranOrder indicates column-major data, which this reader does not handle.
	ErrFortranOrder = errors.New("npy: fortran order not supported")
	// ErrNoView indicates the payload cannot be viewed zero-copy (e.g. f8 data).
	ErrNoView = errors.New("npy: zero-copy view unavailable for this dtype")
)

const magic = "\x93NUMPY"

// DType identifies the element type of an array file.
type DType int

const (
	Float32 DType = iota
	Float64
)

// File is an open, memory-mapped .npy file.
//
// Views returned by Float32View alias the mapping and become invalid after
// Close. Callers that need the data past Close must use ReadAll.
type File struct {
	r     *mmap.ReaderAt
	data  []byte // full mapping
	shape []int
	dtype DType
	off   int // payload offset within data
}

// Open memory-maps path and parses its header.
func Open(path string) (*File, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("npy: open %s: %w", path, err)
	}
	data, err := readerAtBytes(r)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	f := &File{r: r, data: data}
	if err := f.parseHeader(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("npy: %s: %w", path, err)
	}
	return f, nil
}

// readerAtBytes extracts the underlying mapped []byte from an mmap.ReaderAt,
// which intentionally exposes only ReaderAt APIs. Uses reflection into the
// unexported data field; fails fast if the upstream layout changes.
func readerAtBytes(r *mmap.ReaderAt) ([]byte, error) {
	v := reflect.ValueOf(r)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, fmt.Errorf("npy: unexpected mmap reader kind")
	}
	e := v.Elem()
	f := e.FieldByName("data")
	if !f.IsValid() || f.Kind() != reflect.Slice || f.Type().Elem().Kind() != reflect.Uint8 {
		return nil, fmt.Errorf("npy: unsupported golang.org/x/exp/mmap.ReaderAt version (missing data field)")
	}
	if !f.CanAddr() {
		return nil, fmt.Errorf("npy: cannot address mmap reader data")
	}
	return *(*[]byte)(unsafe.Pointer(f.UnsafeAddr())), nil
}

func (f *File) parseHeader() error {
	b := f.data
	if len(b) < len(magic)+4 {
		return ErrBadMagic
	}
	if string(b[:len(magic)]) != magic {
		return ErrBadMagic
	}
	major, minor := b[6], b[7]
	var headerLen, headerStart int
	switch {
	case major == 1 && minor == 0:
		headerLen = int(binary.LittleEndian.Uint16(b[8:10]))
		headerStart = 10
	case major == 2 && minor == 0:
		if len(b) < 12 {
			return ErrUnsupportedVersion
		}
		headerLen = int(binary.LittleEndian.Uint32(b[8:12]))
		headerStart = 12
	default:
		return fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, major, minor)
	}
	if headerStart+headerLen > len(b) {
		return fmt.Errorf("npy: truncated header (%d bytes declared, %d available)", headerLen, len(b)-headerStart)
	}
	header := string(b[headerStart : headerStart+headerLen])

	descr, err := dictString(header, "descr")
	if err != nil {
		return err
	}
	switch descr {
	case "<f4", "|f4", "f4":
		f.dtype = Float32
	case "<f8", "|f8", "f8":
		f.dtype = Float64
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDType, descr)
	}

	fortran, err := dictBool(header, "fortran_order")
	if err != nil {
		return err
	}
	if fortran {
		return ErrFortranOrder
	}

	shape, err := dictShape(header)
	if err != nil {
		return err
	}
	f.shape = shape
	f.off = headerStart + headerLen

	want := f.elemSize() * f.Len()
	if len(b)-f.off < want {
		return fmt.Errorf("npy: truncated payload: want %d bytes, have %d", want, len(b)-f.off)
	}
	return nil
}

func (f *File) elemSize() int {
	if f.dtype == Float64 {
		return 8
	}
	return 4
}

// Shape returns the array dimensions. The returned slice must not be mutated.
func (f *File) Shape() []int { return f.shape }

// DType returns the element type of the file.
func (f *File) DType() DType { return f.dtype }

// Len returns the total number of elements.
func (f *File) Len() int {
	n := 1
	for _, d := range f.shape {
		n *= d
	}
	return n
}

// Float32View returns a zero-copy view over the payload. Only valid for
// float32 files and only until Close.
func (f *File) Float32View() ([]float32, error) {
	if f.dtype != Float32 {
		return nil, ErrNoView
	}
	n := f.Len()
	if n == 0 {
		return nil, nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&f.data[f.off])), n), nil
}

// ReadAll copies the payload into a fresh []float32, converting from float64
// when necessary. Safe to use after Close.
func (f *File) ReadAll() []float32 {
	n := f.Len()
	out := make([]float32, n)
	if f.dtype == Float32 {
		view, _ := f.Float32View()
		copy(out, view)
		return out
	}
	payload := f.data[f.off:]
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint64(payload[i*8:])
		out[i] = float32(math.Float64frombits(bits))
	}
	return out
}

// Close unmaps the file. All views become invalid.
func (f *File) Close() error {
	f.data = nil
	if f.r == nil {
		return nil
	}
	err := f.r.Close()
	f.r = nil
	return err
}

// dictString extracts a quoted value for key from the header dict literal.
func dictString(header, key string) (string, error) {
	rest, err := dictValue(header, key)
	if err != nil {
		return "", err
	}
	if len(rest) == 0 || (rest[0] != '\'' && rest[0] != '"') {
		return "", fmt.Errorf("npy: malformed header value for %q", key)
	}
	quote := rest[0]
	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return "", fmt.Errorf("npy: unterminated string for %q", key)
	}
	return rest[1 : 1+end], nil
}

func dictBool(header, key string) (bool, error) {
	rest, err := dictValue(header, key)
	if err != nil {
		return false, err
	}
	switch {
	case strings.HasPrefix(rest, "True"):
		return true, nil
	case strings.HasPrefix(rest, "False"):
		return false, nil
	}
	return false, fmt.Errorf("npy: malformed header value for %q", key)
}

func dictShape(header string) ([]int, error) {
	rest, err := dictValue(header, "shape")
	if err != nil {
		return nil, err
	}
	if len(rest) == 0 || rest[0] != '(' {
		return nil, fmt.Errorf("npy: malformed shape")
	}
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return nil, fmt.Errorf("npy: unterminated shape")
	}
	inner := rest[1:end]
	var shape []int
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("npy: malformed shape dimension %q", part)
		}
		shape = append(shape, d)
	}
	return shape, nil
}

// dictValue returns the header substring immediately following "'key':".
func dictValue(header, key string) (string, error) {
	idx := strings.Index(header, "'"+key+"'")
	if idx < 0 {
		return "", fmt.Errorf("npy: header missing key %q", key)
	}
	rest := header[idx+len(key)+2:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", fmt.Errorf("npy: malformed header near %q", key)
	}
	return strings.TrimLeft(rest[colon+1:], " "), nil
}

// Write creates a version 1.0 .npy file with little-endian float32 data in
// C order. The payload length must match the product of shape.
func Write(path string, shape []int, data []float32) error {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("npy: negative dimension %d", d)
		}
		n *= d
	}
	if n != len(data) {
		return fmt.Errorf("npy: shape %v wants %d elements, got %d", shape, n, len(data))
	}

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%s), }", tuple)

	// Pad so the payload starts on a 64-byte boundary, trailing newline included.
	prefix := len(magic) + 2 + 2
	total := prefix + len(header) + 1
	pad := (64 - total%64) % 64
	header += strings.Repeat(" ", pad) + "\n"

	buf := make([]byte, 0, prefix+len(header)+4*len(data))
	buf = append(buf, magic...)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(header)))
	buf = append(buf, header...)
	for _, v := range data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return os.WriteFile(path, buf, 0o644)
}
