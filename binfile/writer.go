package binfile

import (
	"bufio"
	"fmt"
	"io"

	"github.com/lucasjlepore/wear-epochs/epoch"
)

// Writer encodes a header followed by records in the header's profile layout.
type Writer struct {
	w      *bufio.Writer
	format FormatDecoder
	header Header
	buf    []byte
	count  int
}

// NewWriter writes h to w and returns a writer for its records.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	format, err := NewFormat(h.Profile)
	if err != nil {
		return nil, err
	}
	if h.Axes < 1 || h.Axes > epoch.MaxAxes {
		return nil, fmt.Errorf("axis count %d outside 1..%d", h.Axes, epoch.MaxAxes)
	}
	hb, err := format.EncodeHeader(h)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(hb); err != nil {
		return nil, err
	}
	return &Writer{
		w:      bw,
		format: format,
		header: h,
		buf:    make([]byte, format.RecordSize(h)),
	}, nil
}

// Write appends one record. Gap placeholders cannot be written; they exist
// only after reconciliation.
func (w *Writer) Write(rec epoch.Record) error {
	if rec.Gap {
		return fmt.Errorf("record %d: gap placeholders are not encodable", w.count)
	}
	if err := w.format.EncodeRecord(w.header, rec, w.buf); err != nil {
		return fmt.Errorf("record %d: %w", w.count, err)
	}
	if _, err := w.w.Write(w.buf); err != nil {
		return err
	}
	w.count++
	return nil
}

// Flush writes buffered bytes to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Encode writes a complete recording.
func Encode(dst io.Writer, h Header, records []epoch.Record) error {
	w, err := NewWriter(dst, h)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return w.Flush()
}
