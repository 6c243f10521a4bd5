package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasjlepore/wear-epochs/config"
	"github.com/lucasjlepore/wear-epochs/rawexport"
)

func main() {
	var (
		outDir     = flag.String("out-dir", "", "Output directory for manifest.json and records.jsonl")
		configPath = flag.String("config", "", "JSON configuration file supplying format profiles")
		overwrite  = flag.Bool("overwrite", true, "Allow writing to non-empty output directories")
		copySource = flag.Bool("copy-source", true, "Copy the original recording into the export directory as source.bin")
	)

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <path-to-bin-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
			os.Exit(1)
		}
	}
	reg, err := cfg.Registry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}

	inputPath := flag.Arg(0)
	if strings.TrimSpace(*outDir) == "" {
		base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		*outDir = filepath.Join(".", "exports", base+"_"+rawexport.ExportFormatVersion)
	}

	result, err := rawexport.ExportFile(inputPath, *outDir, reg, rawexport.ExportOptions{
		Overwrite:      *overwrite,
		CopySourceFile: *copySource,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Export complete\n")
	fmt.Printf("Output dir: %s\n", result.OutputDir)
	fmt.Printf("Manifest:   %s\n", result.ManifestPath)
	fmt.Printf("Records:    %s\n", result.RecordsPath)
	if result.SourceCopyPath != "" {
		fmt.Printf("Source bin: %s\n", result.SourceCopyPath)
	}
	fmt.Printf("Records:    %d (%d leftover bytes)\n", result.RecordCount, result.LeftoverBytes)
	fmt.Printf("CRC valid:  header=%t\n", result.HeaderCRCValid)
}
