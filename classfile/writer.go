package classfile

import "bytes"

// ---------------------------------------------------------------------------
// Writer: serializes a ClassFile to a class image
// ---------------------------------------------------------------------------

// Encode serializes cf into the binary class image format. Encode and
// Parse round-trip: Parse(Encode(cf)) yields an equal ClassFile.
func Encode(cf *ClassFile) []byte {
	w := &writer{buf: &bytes.Buffer{}}

	w.buf.Write(ImageMagic[:])
	w.u32(ImageVersion)
	w.u32(ImageFlagNone)

	w.str(cf.Name)
	w.str(cf.Superclass)

	w.u32(uint32(len(cf.Traits)))
	for _, t := range cf.Traits {
		w.str(t)
	}

	w.u32(uint32(len(cf.Fields)))
	for _, f := range cf.Fields {
		w.str(f.Name)
		w.buf.WriteByte(byte(f.Kind))
	}

	w.u32(uint32(len(cf.Methods)))
	for _, m := range cf.Methods {
		w.str(m.Selector)
		w.u32(uint32(m.Arity))
		w.buf.WriteByte(byte(m.Visibility))
		w.u32(uint32(len(m.Code)))
		w.buf.Write(m.Code)
	}

	return w.buf.Bytes()
}

type writer struct {
	buf *bytes.Buffer
}

func (w *writer) u32(v uint32) {
	var scratch [4]byte
	WriteUint32(scratch[:], v)
	w.buf.Write(scratch[:])
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}
