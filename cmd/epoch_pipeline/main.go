package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lucasjlepore/wear-epochs/config"
	"github.com/lucasjlepore/wear-epochs/monitoring"
	"github.com/lucasjlepore/wear-epochs/pipeline"
	"github.com/lucasjlepore/wear-epochs/store"
)

func main() {
	var (
		inputDir   = flag.String("input", "", "Directory of .bin recordings")
		configPath = flag.String("config", "", "JSON configuration file (defaults apply when omitted)")
		outDir     = flag.String("out", "", "Output directory")
		format     = flag.String("format", "parquet", "Table format: parquet|csv")
		workers    = flag.Int("workers", 0, "Files processed in parallel (0 = one per CPU)")
		overwrite  = flag.Bool("overwrite", false, "Allow writing into non-empty output directories")
		epochs     = flag.Bool("epochs", false, "Also write the labeled_epochs table")
		dbPath     = flag.String("db", "", "Optional sqlite database that keeps every run")
		quiet      = flag.Bool("quiet", false, "Suppress per-file log lines")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --input recordings/ --out outdir [--config cfg.json] [--format parquet|csv] [--db runs.db]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if strings.TrimSpace(*inputDir) == "" || strings.TrimSpace(*outDir) == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *quiet {
		monitoring.SetLogger(nil)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "epoch_pipeline failed: %v\n", err)
			os.Exit(1)
		}
	}

	coord, err := pipeline.New(cfg, pipeline.Options{Workers: *workers, KeepEpochs: *epochs})
	if err != nil {
		fmt.Fprintf(os.Stderr, "epoch_pipeline failed: %v\n", err)
		os.Exit(1)
	}
	inputs, err := pipeline.DiscoverInputs(*inputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "epoch_pipeline failed: %v\n", err)
		os.Exit(1)
	}
	if len(inputs) == 0 {
		fmt.Fprintf(os.Stderr, "epoch_pipeline: no .bin recordings in %s\n", *inputDir)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batch, err := coord.Run(ctx, inputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "epoch_pipeline failed: %v\n", err)
		os.Exit(1)
	}
	result, err := pipeline.WriteArtifacts(*outDir, batch, coord.Rules(), pipeline.ArtifactOptions{
		Format:        *format,
		Overwrite:     *overwrite,
		IncludeEpochs: *epochs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "epoch_pipeline failed: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		db, err := store.Open(*dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open run database: %v\n", err)
			os.Exit(1)
		}
		err = db.SaveBatch(batch, coord.Rules())
		db.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "store run: %v\n", err)
			os.Exit(1)
		}
	}

	counts := batch.Counts()
	fmt.Printf("epoch_pipeline complete (run %s)\n", batch.RunID)
	fmt.Printf("Files:            %d ok, %d excluded, %d failed\n", counts[pipeline.StatusOK], counts[pipeline.StatusExcluded], counts[pipeline.StatusFailed])
	fmt.Printf("Output dir:       %s\n", result.OutputDir)
	fmt.Printf("features:         %s\n", result.FeaturesPath)
	fmt.Printf("days:             %s\n", result.DaysPath)
	if result.LabeledEpochsPath != "" {
		fmt.Printf("labeled epochs:   %s\n", result.LabeledEpochsPath)
	}
	fmt.Printf("report.json:      %s\n", result.ReportPath)
	fmt.Printf("audit.jsonl:      %s\n", result.AuditPath)
	for _, r := range batch.Reports() {
		if r.Status == pipeline.StatusFailed {
			fmt.Printf("failed:           %s (%s)\n", r.ParticipantID, r.Reason)
		}
	}
}
