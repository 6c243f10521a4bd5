package rawexport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasjlepore/wear-epochs/binfile"
)

// ExportFile decodes a recording and writes a lossless export bundle.
// Output files:
//   - manifest.json
//   - records.jsonl
//   - source.bin (optional)
func ExportFile(inputPath, outputDir string, reg *binfile.Registry, opts ExportOptions) (*ExportResult, error) {
	if strings.TrimSpace(inputPath) == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	parsed, err := ParseBytes(data, reg)
	if err != nil {
		return nil, fmt.Errorf("parse recording: %w", err)
	}

	if err := ensureOutputDir(outputDir, opts.Overwrite); err != nil {
		return nil, err
	}

	recordsPath := filepath.Join(outputDir, "records.jsonl")
	if err := writeJSONL(recordsPath, parsed.Records); err != nil {
		return nil, fmt.Errorf("write records.jsonl: %w", err)
	}

	manifest := Manifest{
		FormatVersion:   ExportFormatVersion,
		GeneratedAt:     time.Now().UTC(),
		SourceFile:      inputPath,
		SourceFileName:  filepath.Base(inputPath),
		SourceSHA256:    parsed.SourceSHA256,
		SourceSizeBytes: parsed.SourceSizeBytes,
		Header:          parsed.Header,
		HeaderCRC:       parsed.HeaderCRC,
		RecordsPath:     filepath.Base(recordsPath),
		RecordCount:     len(parsed.Records),
		RecordSize:      parsed.RecordSize,
		LeftoverBytes:   parsed.LeftoverBytes,
		LeftoverHex:     parsed.LeftoverHex,
		SchemaDescription: SchemaDetails{
			RecordType: "JSONL line-per-epoch-record preserving original order and byte offsets",
			Notes: []string{
				"Lossless: every record is exported with its raw bytes as hex.",
				"Missing epochs are not filled; compare consecutive timestamps to find gaps.",
				"A trailing partial record is reported as leftover bytes instead of a record.",
				"Use record_index and file_offset to map a record back to the source file.",
			},
		},
	}

	manifestPath := filepath.Join(outputDir, "manifest.json")
	if err := writeJSON(manifestPath, manifest); err != nil {
		return nil, fmt.Errorf("write manifest.json: %w", err)
	}

	sourceCopyPath := ""
	if opts.CopySourceFile {
		sourceCopyPath = filepath.Join(outputDir, "source.bin")
		if err := copyFile(inputPath, sourceCopyPath); err != nil {
			return nil, fmt.Errorf("copy source recording: %w", err)
		}
	}

	return &ExportResult{
		OutputDir:       outputDir,
		ManifestPath:    manifestPath,
		RecordsPath:     recordsPath,
		SourceCopyPath:  sourceCopyPath,
		RecordCount:     len(parsed.Records),
		SourceSHA256:    parsed.SourceSHA256,
		SourceSizeBytes: parsed.SourceSizeBytes,
		HeaderCRCValid:  !parsed.HeaderCRC.Present || parsed.HeaderCRC.Valid,
		LeftoverBytes:   parsed.LeftoverBytes,
	}, nil
}

func ensureOutputDir(path string, overwrite bool) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read output directory: %w", err)
	}
	if len(entries) > 0 && !overwrite {
		return fmt.Errorf("output directory is not empty: %s (set overwrite=true to allow)", path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONL(path string, records []RecordEnvelope) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := bufio.NewWriterSize(f, 1<<20)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	return buf.Flush()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
