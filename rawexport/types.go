package rawexport

import "time"

const (
	// ExportFormatVersion identifies the on-disk schema for raw record exports.
	ExportFormatVersion = "epoch_raw_jsonl_v1"
)

// ExportOptions controls export behavior.
type ExportOptions struct {
	// Overwrite allows writing into a non-empty output directory.
	Overwrite bool

	// CopySourceFile writes a byte-for-byte copy of the recording to the output directory.
	CopySourceFile bool
}

// ExportResult describes generated files.
type ExportResult struct {
	OutputDir       string `json:"output_dir"`
	ManifestPath    string `json:"manifest_path"`
	RecordsPath     string `json:"records_path"`
	SourceCopyPath  string `json:"source_copy_path,omitempty"`
	RecordCount     int    `json:"record_count"`
	SourceSHA256    string `json:"source_sha256"`
	SourceSizeBytes int64  `json:"source_size_bytes"`
	HeaderCRCValid  bool   `json:"header_crc_valid"`
	LeftoverBytes   int64  `json:"leftover_bytes"`
}

// Manifest captures export metadata and pointers to exported files.
type Manifest struct {
	FormatVersion     string        `json:"format_version"`
	GeneratedAt       time.Time     `json:"generated_at"`
	SourceFile        string        `json:"source_file"`
	SourceFileName    string        `json:"source_file_name"`
	SourceSHA256      string        `json:"source_sha256"`
	SourceSizeBytes   int64         `json:"source_size_bytes"`
	Header            HeaderInfo    `json:"header"`
	HeaderCRC         CRCCheck      `json:"header_crc"`
	RecordsPath       string        `json:"records_path"`
	RecordCount       int           `json:"record_count"`
	RecordSize        int           `json:"record_size"`
	LeftoverBytes     int64         `json:"leftover_bytes"`
	LeftoverHex       string        `json:"leftover_hex,omitempty"`
	SchemaDescription SchemaDetails `json:"schema_description"`
}

// SchemaDetails documents the record shape for downstream applications.
type SchemaDetails struct {
	RecordType string   `json:"record_type"`
	Notes      []string `json:"notes"`
}

// HeaderInfo stores the decoded header values.
type HeaderInfo struct {
	Profile      string    `json:"profile"`
	Marker       string    `json:"marker"`
	Version      uint16    `json:"version"`
	Variant      string    `json:"variant"`
	ByteOrder    string    `json:"byte_order"`
	CountWidth   int       `json:"count_width"`
	Start        time.Time `json:"start"`
	EpochSeconds float64   `json:"epoch_seconds"`
	Axes         int       `json:"axes"`
	Size         int       `json:"size"`
	ReservedHex  string    `json:"reserved_hex,omitempty"`
	RawHeaderHex string    `json:"raw_header_hex"`
}

// CRCCheck describes CRC validation results.
type CRCCheck struct {
	Present         bool   `json:"present"`
	StoredHex       string `json:"stored_hex,omitempty"`
	ComputedHex     string `json:"computed_hex,omitempty"`
	Valid           bool   `json:"valid"`
	ValidationStyle string `json:"validation_style"`
}

// RecordEnvelope is one JSONL line in records.jsonl.
// The stream preserves the original record order.
type RecordEnvelope struct {
	FormatVersion string    `json:"format_version"`
	RecordIndex   int       `json:"record_index"`
	FileOffset    int64     `json:"file_offset"`
	Timestamp     time.Time `json:"timestamp"`
	Counts        []uint32  `json:"counts"`
	RawRecordHex  string    `json:"raw_record_hex"`
}
