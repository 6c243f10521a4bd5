// Package binfile decodes device epoch recordings: a marker/version prefix,
// a device-family header and a run of fixed-width records.
package binfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lucasjlepore/wear-epochs/epoch"
)

const readBufferSize = 64 * 1024

// ReaderOptions constrains the header values a reader accepts.
// Zero fields accept whatever the header declares.
type ReaderOptions struct {
	EpochDuration time.Duration
	Axes          int
	// SkipHeaderChecksum accepts a header whose checksum does not match.
	SkipHeaderChecksum bool
}

// Reader streams epoch records from a recording. The header is decoded once
// in NewReader; each call to Epochs scans the records again from the start.
type Reader struct {
	src    io.ReaderAt
	size   int64
	header Header
	format FormatDecoder
	closer io.Closer
}

// Open opens a recording on disk. The caller must Close the reader.
func Open(path string, reg *Registry, opts ReaderOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r, err := NewReader(f, info.Size(), reg, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader decodes the header of the size bytes available from src.
func NewReader(src io.ReaderAt, size int64, reg *Registry, opts ReaderOptions) (*Reader, error) {
	if size < prefixSize {
		return nil, &FormatError{Offset: 0, Reason: fmt.Sprintf("missing header: file has %d bytes", size)}
	}
	prefix := make([]byte, prefixSize)
	if _, err := src.ReadAt(prefix, 0); err != nil {
		return nil, fmt.Errorf("read header prefix: %w", err)
	}
	marker := string(prefix[:MarkerSize])
	if !printable(marker) {
		return nil, &FormatError{Offset: 0, Reason: fmt.Sprintf("no format marker (got % X)", prefix[:MarkerSize])}
	}
	format, err := reg.Lookup(marker, binary.BigEndian.Uint16(prefix[MarkerSize:]))
	if err != nil {
		return nil, err
	}

	bodySize := format.HeaderSize() - prefixSize
	if size < int64(format.HeaderSize()) {
		bodySize = int(size) - prefixSize
	}
	body := make([]byte, bodySize)
	if _, err := src.ReadAt(body, prefixSize); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header, err := format.DecodeHeader(prefix, body)
	if err != nil && !(opts.SkipHeaderChecksum && errors.Is(err, ErrHeaderChecksum)) {
		return nil, err
	}
	if opts.EpochDuration > 0 && header.EpochDuration != opts.EpochDuration {
		return nil, &FormatError{Offset: 0, Reason: fmt.Sprintf("header epoch duration %s does not match configured %s", header.EpochDuration, opts.EpochDuration)}
	}
	if opts.Axes > 0 && header.Axes != opts.Axes {
		return nil, &FormatError{Offset: 0, Reason: fmt.Sprintf("header axis count %d does not match configured %d", header.Axes, opts.Axes)}
	}
	return &Reader{
		src:    src,
		size:   size,
		header: header,
		format: format,
	}, nil
}

// Header returns the decoded header.
func (r *Reader) Header() Header { return r.header }

// Format returns the decoder selected by the header marker.
func (r *Reader) Format() FormatDecoder { return r.format }

// RecordCount is the number of complete records after the header.
func (r *Reader) RecordCount() int64 {
	return (r.size - int64(r.header.Size)) / int64(r.format.RecordSize(r.header))
}

// LeftoverBytes is the length of a trailing partial record, zero for a well-formed file.
func (r *Reader) LeftoverBytes() int64 {
	return (r.size - int64(r.header.Size)) % int64(r.format.RecordSize(r.header))
}

// Epochs returns a lazy sequence over the records. A trailing partial record
// ends the sequence with a *TruncatedRecordError.
func (r *Reader) Epochs() epoch.Seq[epoch.Record] {
	return func(yield func(epoch.Record, error) bool) {
		start := int64(r.header.Size)
		br := bufio.NewReaderSize(io.NewSectionReader(r.src, start, r.size-start), readBufferSize)
		recSize := r.format.RecordSize(r.header)
		buf := make([]byte, recSize)
		offset := start
		for {
			n, err := io.ReadFull(br, buf)
			switch {
			case errors.Is(err, io.EOF):
				return
			case errors.Is(err, io.ErrUnexpectedEOF):
				yield(epoch.Record{}, &TruncatedRecordError{Offset: offset, Have: n, Need: recSize})
				return
			case err != nil:
				yield(epoch.Record{}, fmt.Errorf("read record at byte %d: %w", offset, err))
				return
			}
			rec, err := r.format.DecodeRecord(r.header, buf, offset)
			if err != nil {
				yield(epoch.Record{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
			offset += int64(recSize)
		}
	}
}

// RawRecords streams each record's bytes with its offset, for diagnostics.
// The slice passed to fn is reused between calls.
func (r *Reader) RawRecords(fn func(offset int64, raw []byte, rec epoch.Record) error) error {
	start := int64(r.header.Size)
	br := bufio.NewReaderSize(io.NewSectionReader(r.src, start, r.size-start), readBufferSize)
	recSize := r.format.RecordSize(r.header)
	buf := make([]byte, recSize)
	for offset := start; ; offset += int64(recSize) {
		n, err := io.ReadFull(br, buf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return &TruncatedRecordError{Offset: offset, Have: n, Need: recSize}
		}
		if err != nil {
			return fmt.Errorf("read record at byte %d: %w", offset, err)
		}
		rec, err := r.format.DecodeRecord(r.header, buf, offset)
		if err != nil {
			return err
		}
		if err := fn(offset, buf, rec); err != nil {
			return err
		}
	}
}

// Close releases the file opened by Open. It is a no-op for NewReader.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
