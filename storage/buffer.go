package storage

import (
	"bytes"
	"io"
)

// Buffer holds an object body in memory so its length is known and it can be
// re-read when the SDK retries or checksums the upload.
type Buffer struct {
	buf bytes.Buffer
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Fill replaces the contents with everything read from r.
func (b *Buffer) Fill(r io.Reader) (int64, error) {
	b.buf.Reset()
	return b.buf.ReadFrom(r)
}

func (b *Buffer) Size() int64 {
	return int64(b.buf.Len())
}

// Reader returns a seekable view of the contents.
func (b *Buffer) Reader() io.ReadSeeker {
	return bytes.NewReader(b.buf.Bytes())
}
