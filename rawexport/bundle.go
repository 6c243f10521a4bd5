// Package rawexport writes a lossless, line-per-record JSON dump of a
// binary epoch recording for inspection outside the pipeline.
package rawexport

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/lucasjlepore/wear-epochs/binfile"
	"github.com/lucasjlepore/wear-epochs/epoch"
	"github.com/tormoder/fit/dyncrc16"
)

// ParsedBundle is the in-memory representation of a decoded recording.
type ParsedBundle struct {
	Header          HeaderInfo
	HeaderCRC       CRCCheck
	Records         []RecordEnvelope
	RecordSize      int
	LeftoverBytes   int64
	LeftoverHex     string
	SourceSHA256    string
	SourceSizeBytes int64
}

// ParseBytes decodes every record of data. The header is accepted as
// written, a stored checksum that does not match is reported in HeaderCRC,
// and a trailing partial record is kept as leftover bytes rather than
// failing the export.
func ParseBytes(data []byte, reg *binfile.Registry) (*ParsedBundle, error) {
	r, err := binfile.NewReader(bytes.NewReader(data), int64(len(data)), reg, binfile.ReaderOptions{SkipHeaderChecksum: true})
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	h := r.Header()
	sum := sha256.Sum256(data)
	out := &ParsedBundle{
		Header:          headerInfo(h, data[:h.Size]),
		HeaderCRC:       headerCRC(h, data[:h.Size]),
		RecordSize:      r.Format().RecordSize(h),
		SourceSHA256:    hex.EncodeToString(sum[:]),
		SourceSizeBytes: int64(len(data)),
	}

	err = r.RawRecords(func(offset int64, raw []byte, rec epoch.Record) error {
		out.Records = append(out.Records, RecordEnvelope{
			FormatVersion: ExportFormatVersion,
			RecordIndex:   len(out.Records),
			FileOffset:    offset,
			Timestamp:     rec.Timestamp,
			Counts:        rec.AxisCounts(),
			RawRecordHex:  hex.EncodeToString(raw),
		})
		return nil
	})
	var trunc *binfile.TruncatedRecordError
	switch {
	case errors.As(err, &trunc):
		out.LeftoverBytes = int64(trunc.Have)
		out.LeftoverHex = hex.EncodeToString(data[trunc.Offset:])
	case err != nil:
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return out, nil
}

func headerInfo(h binfile.Header, raw []byte) HeaderInfo {
	return HeaderInfo{
		Profile:      h.Profile.Name,
		Marker:       h.Profile.Marker,
		Version:      h.Profile.Version,
		Variant:      string(h.Profile.Variant),
		ByteOrder:    h.Profile.ByteOrder,
		CountWidth:   h.Profile.CountWidth,
		Start:        h.Start,
		EpochSeconds: h.EpochDuration.Seconds(),
		Axes:         h.Axes,
		Size:         h.Size,
		ReservedHex:  hex.EncodeToString(h.Reserved),
		RawHeaderHex: hex.EncodeToString(raw),
	}
}

// headerCRC recomputes the checksum that closes an indexed header.
// Stamped headers carry none.
func headerCRC(h binfile.Header, raw []byte) CRCCheck {
	if h.Profile.Variant != binfile.VariantIndexed || len(raw) < 2 {
		return CRCCheck{ValidationStyle: "not_present"}
	}
	computed := dyncrc16.Checksum(raw[:len(raw)-2])
	return CRCCheck{
		Present:         true,
		StoredHex:       fmt.Sprintf("%04X", h.Checksum),
		ComputedHex:     fmt.Sprintf("%04X", computed),
		Valid:           computed == h.Checksum,
		ValidationStyle: "crc16 over header bytes before the checksum",
	}
}
