package classfile

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Image Format Constants
// ---------------------------------------------------------------------------

// ImageMagic is the magic number identifying a molt class image.
var ImageMagic = [4]byte{'M', 'C', 'L', 'S'}

// ImageVersion is the current class image format version.
// v1: initial format
const ImageVersion uint32 = 1

// ImageHeaderSize is the fixed header size in bytes:
// magic(4) + version(4) + flags(4) = 12
const ImageHeaderSize = 12

// Image flags
const (
	ImageFlagNone uint32 = 0
)

// Sanity bound on table counts; a count above this in a 4-byte field means
// the image is garbage, not a huge class.
const maxTableCount = 1 << 20

// ---------------------------------------------------------------------------
// Image Error Types
// ---------------------------------------------------------------------------

var (
	ErrBadMagic        = errors.New("invalid magic number: expected MCLS")
	ErrVersionMismatch = errors.New("class image version mismatch")
	ErrTruncated       = errors.New("unexpected end of class image")
	ErrCorrupt         = errors.New("corrupt class image")
)

// IsMalformed reports whether err is any of the class image parse errors.
// Callers use it to distinguish a broken binary from other failures.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrBadMagic) ||
		errors.Is(err, ErrVersionMismatch) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrCorrupt)
}

// ---------------------------------------------------------------------------
// Reader: parses a class image
// ---------------------------------------------------------------------------

type reader struct {
	data   []byte
	offset int
}

// Parse decodes a class image. A malformed image is reported as a hard
// error wrapping one of the sentinel errors above; Parse never returns a
// partially populated ClassFile.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{data: data}

	if err := r.header(); err != nil {
		return nil, err
	}

	cf := &ClassFile{}
	var err error

	if cf.Name, err = r.str(); err != nil {
		return nil, fmt.Errorf("class name: %w", err)
	}
	if cf.Name == "" {
		return nil, fmt.Errorf("%w: empty class name", ErrCorrupt)
	}
	if cf.Superclass, err = r.str(); err != nil {
		return nil, fmt.Errorf("superclass name: %w", err)
	}

	traitCount, err := r.count()
	if err != nil {
		return nil, fmt.Errorf("trait table: %w", err)
	}
	for i := uint32(0); i < traitCount; i++ {
		t, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("trait %d: %w", i, err)
		}
		cf.Traits = append(cf.Traits, t)
	}

	fieldCount, err := r.count()
	if err != nil {
		return nil, fmt.Errorf("field table: %w", err)
	}
	seen := make(map[string]bool, fieldCount)
	for i := uint32(0); i < fieldCount; i++ {
		f, err := r.field()
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrCorrupt, f.Name)
		}
		seen[f.Name] = true
		cf.Fields = append(cf.Fields, f)
	}

	methodCount, err := r.count()
	if err != nil {
		return nil, fmt.Errorf("method table: %w", err)
	}
	// Selectors are the runtime's dispatch key; a duplicate would
	// silently shadow the earlier body in the method table.
	seenSel := make(map[string]bool, methodCount)
	for i := uint32(0); i < methodCount; i++ {
		m, err := r.method()
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		if seenSel[m.Selector] {
			return nil, fmt.Errorf("%w: duplicate method %q", ErrCorrupt, m.Selector)
		}
		seenSel[m.Selector] = true
		cf.Methods = append(cf.Methods, m)
	}

	if r.offset != len(r.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.data)-r.offset)
	}

	return cf, nil
}

func (r *reader) header() error {
	if len(r.data) < ImageHeaderSize {
		return ErrTruncated
	}

	if string(r.data[0:4]) != string(ImageMagic[:]) {
		return fmt.Errorf("%w: got %q", ErrBadMagic, r.data[0:4])
	}
	r.offset = 4

	version := ReadUint32(r.data[r.offset:])
	r.offset += 4
	if version != ImageVersion {
		return fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, ImageVersion, version)
	}

	// Flags are read and currently ignored.
	r.offset += 4

	return nil
}

func (r *reader) count() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, ErrTruncated
	}
	n := ReadUint32(r.data[r.offset:])
	r.offset += 4
	if n > maxTableCount {
		return 0, fmt.Errorf("%w: implausible table count %d", ErrCorrupt, n)
	}
	return n, nil
}

func (r *reader) str() (string, error) {
	n, err := r.count()
	if err != nil {
		return "", err
	}
	if r.offset+int(n) > len(r.data) {
		return "", ErrTruncated
	}
	s := string(r.data[r.offset : r.offset+int(n)])
	r.offset += int(n)
	return s, nil
}

func (r *reader) field() (Field, error) {
	name, err := r.str()
	if err != nil {
		return Field{}, err
	}
	if name == "" {
		return Field{}, fmt.Errorf("%w: empty field name", ErrCorrupt)
	}
	if r.offset >= len(r.data) {
		return Field{}, ErrTruncated
	}
	kind := FieldKind(r.data[r.offset])
	r.offset++
	if kind > KindReference {
		return Field{}, fmt.Errorf("%w: unknown field kind %d", ErrCorrupt, kind)
	}
	return Field{Name: name, Kind: kind}, nil
}

func (r *reader) method() (Method, error) {
	selector, err := r.str()
	if err != nil {
		return Method{}, err
	}
	if selector == "" {
		return Method{}, fmt.Errorf("%w: empty selector", ErrCorrupt)
	}

	arity, err := r.count()
	if err != nil {
		return Method{}, err
	}

	if r.offset >= len(r.data) {
		return Method{}, ErrTruncated
	}
	vis := Visibility(r.data[r.offset])
	r.offset++
	if vis > Private {
		return Method{}, fmt.Errorf("%w: unknown visibility %d", ErrCorrupt, vis)
	}

	codeLen, err := r.count()
	if err != nil {
		return Method{}, err
	}
	if r.offset+int(codeLen) > len(r.data) {
		return Method{}, ErrTruncated
	}
	code := make([]byte, codeLen)
	copy(code, r.data[r.offset:r.offset+int(codeLen)])
	r.offset += int(codeLen)

	return Method{
		Selector:   selector,
		Arity:      int(arity),
		Visibility: vis,
		Code:       code,
	}, nil
}
