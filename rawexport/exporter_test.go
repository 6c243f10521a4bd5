package rawexport

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasjlepore/wear-epochs/binfile"
	"github.com/lucasjlepore/wear-epochs/internal/fixture"
)

func testRegistry(t *testing.T) *binfile.Registry {
	t.Helper()
	reg, err := binfile.NewRegistry(binfile.DefaultProfiles())
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	return reg
}

func buildTestRecording(t *testing.T, profile int) []byte {
	t.Helper()
	rec := fixture.Default(
		time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC),
		fixture.Segment{Epochs: 10, Count: 120},
		fixture.Segment{Epochs: 5, Missing: true},
		fixture.Segment{Epochs: 10, Count: 7},
	)
	rec.Profile = binfile.DefaultProfiles()[profile]
	rec.Axes = 3
	data, err := rec.Bytes()
	if err != nil {
		t.Fatalf("encode recording: %v", err)
	}
	return data
}

func TestParseBytesKeepsEveryRecord(t *testing.T) {
	data := buildTestRecording(t, 1)

	out, err := ParseBytes(data, testRegistry(t))
	if err != nil {
		t.Fatalf("ParseBytes error: %v", err)
	}
	if out.Header.Marker != "GAE2" || out.Header.Axes != 3 {
		t.Fatalf("unexpected header: %+v", out.Header)
	}
	if !out.HeaderCRC.Present || !out.HeaderCRC.Valid {
		t.Fatalf("expected a valid header CRC, got %+v", out.HeaderCRC)
	}
	if len(out.Records) != 20 {
		t.Fatalf("expected 20 records, got %d", len(out.Records))
	}
	if out.LeftoverBytes != 0 {
		t.Fatalf("expected no leftover bytes, got %d", out.LeftoverBytes)
	}

	// Missing epochs are not filled: record 10 follows record 9 by six epochs.
	gap := out.Records[10].Timestamp.Sub(out.Records[9].Timestamp)
	if gap != 6*30*time.Second {
		t.Fatalf("unexpected spacing across the gap: %s", gap)
	}

	var rebuilt []byte
	rebuilt = append(rebuilt, data[:out.Header.Size]...)
	for i, r := range out.Records {
		if r.RecordIndex != i {
			t.Fatalf("record %d has index %d", i, r.RecordIndex)
		}
		if want := int64(out.Header.Size + i*out.RecordSize); r.FileOffset != want {
			t.Fatalf("record %d offset %d, want %d", i, r.FileOffset, want)
		}
		raw, err := hex.DecodeString(r.RawRecordHex)
		if err != nil {
			t.Fatalf("decode raw hex: %v", err)
		}
		rebuilt = append(rebuilt, raw...)
	}
	if string(rebuilt) != string(data) {
		t.Fatal("header and raw records do not reproduce the source bytes")
	}
}

func TestParseBytesStampedHasNoCRC(t *testing.T) {
	out, err := ParseBytes(buildTestRecording(t, 0), testRegistry(t))
	if err != nil {
		t.Fatalf("ParseBytes error: %v", err)
	}
	if out.HeaderCRC.Present {
		t.Fatalf("stamped headers carry no checksum, got %+v", out.HeaderCRC)
	}
	if got := out.Records[0].Counts; len(got) != 3 || got[0] != 120 {
		t.Fatalf("unexpected counts: %v", got)
	}
}

func TestParseBytesReportsLeftover(t *testing.T) {
	data := append(buildTestRecording(t, 0), 0xDE, 0xAD)

	out, err := ParseBytes(data, testRegistry(t))
	if err != nil {
		t.Fatalf("ParseBytes error: %v", err)
	}
	if len(out.Records) != 20 {
		t.Fatalf("expected 20 records, got %d", len(out.Records))
	}
	if out.LeftoverBytes != 2 || out.LeftoverHex != "dead" {
		t.Fatalf("unexpected leftover: %d %q", out.LeftoverBytes, out.LeftoverHex)
	}
}

func TestExportKeepsCorruptHeader(t *testing.T) {
	data := buildTestRecording(t, 1)
	data[10] ^= 0xFF

	out, err := ParseBytes(data, testRegistry(t))
	if err != nil {
		t.Fatalf("ParseBytes error: %v", err)
	}
	if !out.HeaderCRC.Present || out.HeaderCRC.Valid {
		t.Fatalf("expected an invalid header CRC, got %+v", out.HeaderCRC)
	}
	if out.HeaderCRC.StoredHex == out.HeaderCRC.ComputedHex {
		t.Fatalf("stored and computed CRC should differ: %+v", out.HeaderCRC)
	}
	if len(out.Records) != 20 {
		t.Fatalf("expected 20 records, got %d", len(out.Records))
	}

	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "corrupt.bin")
	if err := os.WriteFile(inputPath, data, 0o644); err != nil {
		t.Fatalf("write recording: %v", err)
	}
	result, err := ExportFile(inputPath, filepath.Join(tmp, "export"), testRegistry(t), ExportOptions{})
	if err != nil {
		t.Fatalf("ExportFile error: %v", err)
	}
	if result.HeaderCRCValid {
		t.Fatal("expected HeaderCRCValid=false for a corrupt header")
	}
}

func TestParseBytesRejectsBadHeader(t *testing.T) {
	if _, err := ParseBytes([]byte("GAE9\x00\x01garbage"), testRegistry(t)); err == nil {
		t.Fatal("expected an error for an unknown marker")
	}
}

func TestExportFileWritesBundle(t *testing.T) {
	data := buildTestRecording(t, 1)

	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "P-001.bin")
	if err := os.WriteFile(inputPath, data, 0o644); err != nil {
		t.Fatalf("write sample recording: %v", err)
	}

	outDir := filepath.Join(tmp, "export")
	result, err := ExportFile(inputPath, outDir, testRegistry(t), ExportOptions{
		Overwrite:      true,
		CopySourceFile: true,
	})
	if err != nil {
		t.Fatalf("ExportFile error: %v", err)
	}
	if result.RecordCount != 20 || !result.HeaderCRCValid {
		t.Fatalf("unexpected result: %+v", result)
	}

	var manifest Manifest
	raw, err := os.ReadFile(result.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if manifest.FormatVersion != ExportFormatVersion {
		t.Fatalf("unexpected format version: %q", manifest.FormatVersion)
	}
	if manifest.SourceSizeBytes != int64(len(data)) {
		t.Fatalf("unexpected source size: %d", manifest.SourceSizeBytes)
	}
	if manifest.Header.Profile != "geneactiv-epoch-v2" {
		t.Fatalf("unexpected profile: %q", manifest.Header.Profile)
	}

	f, err := os.Open(result.RecordsPath)
	if err != nil {
		t.Fatalf("open records: %v", err)
	}
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var env RecordEnvelope
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 20 {
		t.Fatalf("expected 20 JSONL lines, got %d", lines)
	}

	copied, err := os.ReadFile(result.SourceCopyPath)
	if err != nil {
		t.Fatalf("read source copy: %v", err)
	}
	if string(copied) != string(data) {
		t.Fatal("source copy differs from input")
	}

	_, err = ExportFile(inputPath, outDir, testRegistry(t), ExportOptions{})
	if err == nil || !strings.Contains(err.Error(), "not empty") {
		t.Fatalf("expected non-empty directory error, got %v", err)
	}
}
