package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	wearepochs "github.com/lucasjlepore/wear-epochs"
	"github.com/lucasjlepore/wear-epochs/aggregate"
	"github.com/lucasjlepore/wear-epochs/config"
	"github.com/lucasjlepore/wear-epochs/epoch"
	"github.com/lucasjlepore/wear-epochs/monitoring"
)

func main() {
	var (
		configPath = flag.String("config", "", "JSON configuration file (defaults apply when omitted)")
		jsonOut    = flag.Bool("json", false, "Emit full analysis as JSON")
		showDays   = flag.Bool("days", false, "Include a day-by-day summary in text output")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <path-to-bin-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	monitoring.SetLogger(nil)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
			os.Exit(1)
		}
	}

	filePath := flag.Arg(0)
	analysis, err := wearepochs.AnalyzeFile(context.Background(), filePath, cfg, wearepochs.Options{})
	var insufficient *aggregate.InsufficientValidDaysError
	if err != nil && !errors.As(err, &insufficient) {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(analysis); err != nil {
			fmt.Fprintf(os.Stderr, "json encode failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println(analysis.Notes)
	if *showDays {
		fmt.Println()
		fmt.Println("Day Summary")
		for _, d := range analysis.AllDays() {
			fmt.Printf(
				"- Day %02d | %s | %6.0f wear min | %5.0f MVPA min | %5.0f sleep min | valid=%t\n",
				d.Index,
				d.Date,
				d.WearMinutes,
				d.MVPAMinutes(),
				d.StateMinutes(epoch.StateSleep),
				d.Valid,
			)
		}
	}
}
