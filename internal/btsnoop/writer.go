package btsnoop

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Writer emits a btsnoop stream.
type Writer struct {
	w   io.Writer
	buf [recordLen]byte
}

// NewWriter writes the file header for the given datalink.
func NewWriter(w io.Writer, dl Datalink) (*Writer, error) {
	var hdr [headerLen]byte
	copy(hdr[:8], magic[:])
	binary.BigEndian.PutUint32(hdr[8:12], version)
	binary.BigEndian.PutUint32(hdr[12:16], uint32(dl))
	if _, err := w.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("btsnoop: writing header: %w", err)
	}
	return &Writer{w: w}, nil
}

// WriteRecord appends one record. A zero OriginalLength is taken to mean
// the record is not truncated.
func (w *Writer) WriteRecord(rec Record) error {
	orig := rec.OriginalLength
	if orig == 0 {
		orig = uint32(len(rec.Data))
	}

	binary.BigEndian.PutUint32(w.buf[0:4], orig)
	binary.BigEndian.PutUint32(w.buf[4:8], uint32(len(rec.Data)))
	binary.BigEndian.PutUint32(w.buf[8:12], uint32(rec.Flags))
	binary.BigEndian.PutUint32(w.buf[12:16], rec.Drops)
	binary.BigEndian.PutUint64(w.buf[16:24], uint64(fromTimestamp(rec.Timestamp)))

	if _, err := w.w.Write(w.buf[:]); err != nil {
		return err
	}
	_, err := w.w.Write(rec.Data)
	return err
}
