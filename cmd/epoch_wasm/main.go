//go:build js && wasm

package main

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"sort"
	"syscall/js"
	"time"

	"github.com/lucasjlepore/wear-epochs/config"
	"github.com/lucasjlepore/wear-epochs/monitoring"
	"github.com/lucasjlepore/wear-epochs/pipeline"
)

func main() {
	monitoring.SetLogger(nil)
	js.Global().Set("analyzeEpochs", js.FuncOf(analyzeEpochs))
	select {}
}

func analyzeEpochs(_ js.Value, args []js.Value) any {
	if len(args) < 2 {
		return failure("expected arguments: fileBytes(Uint8Array), options(object)")
	}
	fileArg := args[0]
	optsArg := args[1]
	if fileArg.IsUndefined() || fileArg.IsNull() || fileArg.Get("length").Int() == 0 {
		return failure("recording bytes are required")
	}

	fileBytes := make([]byte, fileArg.Get("length").Int())
	if n := js.CopyBytesToGo(fileBytes, fileArg); n == 0 {
		return failure("failed to read recording bytes from JS input")
	}

	cfg := config.Default()
	if raw := getString(optsArg, "config_json", ""); raw != "" {
		var err error
		if cfg, err = config.Parse([]byte(raw)); err != nil {
			return failure(err.Error())
		}
	}
	coord, err := pipeline.New(cfg, pipeline.Options{Workers: 1, KeepEpochs: getBool(optsArg, "epochs")})
	if err != nil {
		return failure(err.Error())
	}

	participant := getString(optsArg, "participant_id", "input")
	batch := coord.RunBytes(context.Background(), participant, fileBytes)
	report := batch.Outcomes[0].Report

	files, err := pipeline.EncodeArtifacts(batch, coord.Rules(), pipeline.ArtifactOptions{
		Format:        getString(optsArg, "format", "parquet"),
		IncludeEpochs: getBool(optsArg, "epochs"),
	})
	if err != nil {
		return failure(err.Error())
	}
	if a := batch.Outcomes[0].Analysis; a != nil {
		files["notes.txt"] = []byte(a.Notes + "\n")
	}

	zipBytes, err := zipArtifacts(files)
	if err != nil {
		return failure(fmt.Sprintf("create zip: %v", err))
	}
	payload := js.Global().Get("Uint8Array").New(len(zipBytes))
	js.CopyBytesToJS(payload, zipBytes)

	fileNames := make([]string, 0, len(files))
	for name := range files {
		fileNames = append(fileNames, name)
	}
	sort.Strings(fileNames)

	return map[string]any{
		"ok":     report.Status != pipeline.StatusFailed,
		"status": string(report.Status),
		"reason": report.Reason,
		"detail": report.Detail,
		"zip":    payload,
		"files":  stringsToAny(fileNames),
	}
}

func failure(msg string) map[string]any {
	return map[string]any{
		"ok":    false,
		"error": msg,
	}
}

func zipArtifacts(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fixedTime := time.Unix(0, 0).UTC()

	for _, name := range names {
		h := &zip.FileHeader{
			Name:   name,
			Method: zip.Deflate,
		}
		h.SetModTime(fixedTime)
		w, err := zw.CreateHeader(h)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(files[name]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func getString(v js.Value, key, fallback string) string {
	if v.IsUndefined() || v.IsNull() {
		return fallback
	}
	out := v.Get(key)
	if out.IsUndefined() || out.IsNull() {
		return fallback
	}
	s := out.String()
	if s == "" || s == "undefined" || s == "null" {
		return fallback
	}
	return s
}

func getBool(v js.Value, key string) bool {
	if v.IsUndefined() || v.IsNull() {
		return false
	}
	out := v.Get(key)
	return out.Type() == js.TypeBoolean && out.Bool()
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
