package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// FeaturesParquet encodes the long-format feature table of the OK files
// in memory, in the same layout WriteArtifacts writes to disk.
func FeaturesParquet(batch *BatchResult) ([]byte, error) {
	return marshalParquet(featureRows(batch))
}

// EncodeArtifacts builds the same files as WriteArtifacts without touching
// the filesystem, keyed by file name.
func EncodeArtifacts(batch *BatchResult, rules []string, opts ArtifactOptions) (map[string][]byte, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch result is nil")
	}
	format, err := tableFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	files := make(map[string][]byte)
	if files["features."+format], err = marshalTable(format, featureHeader, featureRows(batch)); err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	if files["days."+format], err = marshalTable(format, dayHeader, dayRows(batch)); err != nil {
		return nil, fmt.Errorf("encode days: %w", err)
	}
	if opts.IncludeEpochs {
		if files["labeled_epochs."+format], err = marshalTable(format, epochHeader, epochRows(batch)); err != nil {
			return nil, fmt.Errorf("encode labeled epochs: %w", err)
		}
	}

	report, err := json.MarshalIndent(newReport(batch, rules), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	files["report.json"] = append(report, '\n')

	var audit bytes.Buffer
	if err := encodeAudit(&audit, batch); err != nil {
		return nil, fmt.Errorf("encode audit: %w", err)
	}
	files["audit.jsonl"] = audit.Bytes()
	return files, nil
}

func marshalTable[T tableRow](format string, header []string, rows []T) ([]byte, error) {
	if format == "csv" {
		var buf bytes.Buffer
		if err := encodeCSV(&buf, header, rows); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return marshalParquet(rows)
}

func marshalParquet[T any](rows []T) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(T), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range rows {
		if err := pw.Write(r); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}
