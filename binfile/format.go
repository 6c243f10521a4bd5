package binfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/lucasjlepore/wear-epochs/epoch"
	"github.com/tormoder/fit/dyncrc16"
)

// Header is the decoded file header. Reserved bytes and the stored checksum
// are kept verbatim so a header re-encodes byte for byte.
type Header struct {
	Profile       Profile       `json:"profile"`
	Start         time.Time     `json:"start"`
	EpochDuration time.Duration `json:"epoch_duration"`
	Axes          int           `json:"axes"`
	Reserved      []byte        `json:"reserved,omitempty"`
	Checksum      uint16        `json:"checksum,omitempty"`
	Size          int           `json:"size"`
}

// FormatDecoder decodes and encodes one device-family layout.
type FormatDecoder interface {
	Profile() Profile
	// HeaderSize is the full header length including the marker prefix.
	HeaderSize() int
	// DecodeHeader parses body, the header bytes that follow the prefix.
	// A checksum mismatch returns the decoded header with an error
	// wrapping ErrHeaderChecksum.
	DecodeHeader(prefix, body []byte) (Header, error)
	EncodeHeader(h Header) ([]byte, error)
	RecordSize(h Header) int
	DecodeRecord(h Header, b []byte, offset int64) (epoch.Record, error)
	EncodeRecord(h Header, rec epoch.Record, dst []byte) error
}

// NewFormat returns the decoder for a profile's variant.
func NewFormat(p Profile) (FormatDecoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	order, _ := byteOrder(p.ByteOrder)
	c := codec{profile: p, order: order}
	switch p.Variant {
	case VariantStamped:
		return stampedFormat{c}, nil
	case VariantIndexed:
		return indexedFormat{c}, nil
	}
	return nil, fmt.Errorf("profile %s: unsupported variant %q", p.Name, p.Variant)
}

// NewHeader builds a header for writing with the given profile.
func NewHeader(p Profile, start time.Time, epochDuration time.Duration, axes int) (Header, error) {
	f, err := NewFormat(p)
	if err != nil {
		return Header{}, err
	}
	reserved := 1
	if p.Variant == VariantIndexed {
		reserved = 3
	}
	return Header{
		Profile:       p,
		Start:         start.UTC(),
		EpochDuration: epochDuration,
		Axes:          axes,
		Reserved:      make([]byte, reserved),
		Size:          f.HeaderSize(),
	}, nil
}

type codec struct {
	profile Profile
	order   binary.ByteOrder
}

func (c codec) Profile() Profile { return c.profile }

func (c codec) prefix() []byte {
	b := make([]byte, prefixSize)
	copy(b, c.profile.Marker)
	binary.BigEndian.PutUint16(b[MarkerSize:], c.profile.Version)
	return b
}

func (c codec) recordSize(h Header, lead int) int {
	return lead + h.Axes*c.profile.CountWidth
}

func (c codec) decodeCounts(h Header, b []byte, rec *epoch.Record) {
	w := c.profile.CountWidth
	for i := 0; i < h.Axes; i++ {
		v := b[i*w : (i+1)*w]
		switch w {
		case 1:
			rec.Counts[i] = uint32(v[0])
		case 2:
			rec.Counts[i] = uint32(c.order.Uint16(v))
		case 4:
			rec.Counts[i] = c.order.Uint32(v)
		}
	}
	rec.Axes = h.Axes
}

func (c codec) encodeCounts(h Header, rec epoch.Record, b []byte) error {
	if rec.Axes != h.Axes {
		return fmt.Errorf("record has %d axes, header declares %d", rec.Axes, h.Axes)
	}
	w := c.profile.CountWidth
	limit := uint64(1)<<(8*uint(w)) - 1
	for i := 0; i < h.Axes; i++ {
		if uint64(rec.Counts[i]) > limit {
			return fmt.Errorf("axis %d count %d exceeds %d-byte width", i, rec.Counts[i], w)
		}
		v := b[i*w : (i+1)*w]
		switch w {
		case 1:
			v[0] = uint8(rec.Counts[i])
		case 2:
			c.order.PutUint16(v, uint16(rec.Counts[i]))
		case 4:
			c.order.PutUint32(v, rec.Counts[i])
		}
	}
	return nil
}

func checkHeaderFields(axes int, epochSeconds int64) error {
	if axes < 1 || axes > epoch.MaxAxes {
		return &FormatError{Offset: 0, Reason: fmt.Sprintf("axis count %d outside 1..%d", axes, epoch.MaxAxes)}
	}
	if epochSeconds <= 0 {
		return &FormatError{Offset: 0, Reason: fmt.Sprintf("epoch duration %ds must be positive", epochSeconds)}
	}
	return nil
}

// stampedFormat: axes u8 | reserved u8 | epoch seconds u16 | start unix seconds i64.
// Records: u32 seconds since start, then counts.
type stampedFormat struct{ codec }

const stampedBodySize = 12

func (f stampedFormat) HeaderSize() int { return prefixSize + stampedBodySize }

func (f stampedFormat) DecodeHeader(prefix, body []byte) (Header, error) {
	if len(body) < stampedBodySize {
		return Header{}, &FormatError{Offset: int64(prefixSize + len(body)), Reason: "header truncated"}
	}
	axes := int(body[0])
	epochSeconds := int64(f.order.Uint16(body[2:4]))
	if err := checkHeaderFields(axes, epochSeconds); err != nil {
		return Header{}, err
	}
	return Header{
		Profile:       f.profile,
		Start:         time.Unix(int64(f.order.Uint64(body[4:12])), 0).UTC(),
		EpochDuration: time.Duration(epochSeconds) * time.Second,
		Axes:          axes,
		Reserved:      []byte{body[1]},
		Size:          f.HeaderSize(),
	}, nil
}

func (f stampedFormat) EncodeHeader(h Header) ([]byte, error) {
	secs := int64(h.EpochDuration / time.Second)
	if secs <= 0 || secs > math.MaxUint16 || h.EpochDuration%time.Second != 0 {
		return nil, fmt.Errorf("epoch duration %s not representable in whole uint16 seconds", h.EpochDuration)
	}
	b := append(f.prefix(), make([]byte, stampedBodySize)...)
	body := b[prefixSize:]
	body[0] = uint8(h.Axes)
	if len(h.Reserved) > 0 {
		body[1] = h.Reserved[0]
	}
	f.order.PutUint16(body[2:4], uint16(secs))
	f.order.PutUint64(body[4:12], uint64(h.Start.Unix()))
	return b, nil
}

func (f stampedFormat) RecordSize(h Header) int { return f.recordSize(h, 4) }

func (f stampedFormat) DecodeRecord(h Header, b []byte, offset int64) (epoch.Record, error) {
	rec := epoch.Record{
		Timestamp:    h.Start.Add(time.Duration(f.order.Uint32(b[:4])) * time.Second),
		SourceOffset: offset,
	}
	f.decodeCounts(h, b[4:], &rec)
	return rec, nil
}

func (f stampedFormat) EncodeRecord(h Header, rec epoch.Record, dst []byte) error {
	d := rec.Timestamp.Sub(h.Start)
	if d < 0 || d%time.Second != 0 || d/time.Second > math.MaxUint32 {
		return fmt.Errorf("timestamp %s not representable as whole seconds after start %s", rec.Timestamp, h.Start)
	}
	f.order.PutUint32(dst[:4], uint32(d/time.Second))
	return f.encodeCounts(h, rec, dst[4:])
}

// indexedFormat: epoch seconds u32 | start unix millis i64 | axes u8 |
// reserved 3 bytes | CRC-16 (FIT polynomial) of every preceding header byte.
// Records: u32 epoch index since start, then counts.
type indexedFormat struct{ codec }

const indexedBodySize = 18

func (f indexedFormat) HeaderSize() int { return prefixSize + indexedBodySize }

func (f indexedFormat) DecodeHeader(prefix, body []byte) (Header, error) {
	if len(body) < indexedBodySize {
		return Header{}, &FormatError{Offset: int64(prefixSize + len(body)), Reason: "header truncated"}
	}
	full := append(append([]byte(nil), prefix...), body[:indexedBodySize]...)
	epochSeconds := int64(f.order.Uint32(body[0:4]))
	axes := int(body[12])
	if err := checkHeaderFields(axes, epochSeconds); err != nil {
		return Header{}, err
	}
	stored := f.order.Uint16(body[16:18])
	h := Header{
		Profile:       f.profile,
		Start:         time.UnixMilli(int64(f.order.Uint64(body[4:12]))).UTC(),
		EpochDuration: time.Duration(epochSeconds) * time.Second,
		Axes:          axes,
		Reserved:      append([]byte(nil), body[13:16]...),
		Checksum:      stored,
		Size:          f.HeaderSize(),
	}
	if computed := dyncrc16.Checksum(full[:len(full)-2]); computed != stored {
		return h, &FormatError{
			Offset: int64(prefixSize + 16),
			Reason: fmt.Sprintf("header checksum mismatch: stored 0x%04X computed 0x%04X", stored, computed),
			Err:    ErrHeaderChecksum,
		}
	}
	return h, nil
}

func (f indexedFormat) EncodeHeader(h Header) ([]byte, error) {
	secs := int64(h.EpochDuration / time.Second)
	if secs <= 0 || secs > math.MaxUint32 || h.EpochDuration%time.Second != 0 {
		return nil, fmt.Errorf("epoch duration %s not representable in whole uint32 seconds", h.EpochDuration)
	}
	b := append(f.prefix(), make([]byte, indexedBodySize)...)
	body := b[prefixSize:]
	f.order.PutUint32(body[0:4], uint32(secs))
	f.order.PutUint64(body[4:12], uint64(h.Start.UnixMilli()))
	body[12] = uint8(h.Axes)
	copy(body[13:16], h.Reserved)
	f.order.PutUint16(body[16:18], dyncrc16.Checksum(b[:len(b)-2]))
	return b, nil
}

func (f indexedFormat) RecordSize(h Header) int { return f.recordSize(h, 4) }

func (f indexedFormat) DecodeRecord(h Header, b []byte, offset int64) (epoch.Record, error) {
	idx := f.order.Uint32(b[:4])
	if uint64(idx) > math.MaxInt64/uint64(h.EpochDuration) {
		return epoch.Record{}, &FormatError{Offset: offset, Reason: fmt.Sprintf("epoch index %d overflows timestamp", idx)}
	}
	rec := epoch.Record{
		Timestamp:    h.Start.Add(time.Duration(idx) * h.EpochDuration),
		SourceOffset: offset,
	}
	f.decodeCounts(h, b[4:], &rec)
	return rec, nil
}

func (f indexedFormat) EncodeRecord(h Header, rec epoch.Record, dst []byte) error {
	d := rec.Timestamp.Sub(h.Start)
	if d < 0 || d%h.EpochDuration != 0 || int64(d/h.EpochDuration) > math.MaxUint32 {
		return fmt.Errorf("timestamp %s is not a whole epoch index after start %s", rec.Timestamp, h.Start)
	}
	f.order.PutUint32(dst[:4], uint32(d/h.EpochDuration))
	return f.encodeCounts(h, rec, dst[4:])
}
