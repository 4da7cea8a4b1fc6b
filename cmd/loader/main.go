// Command loader replaces the dataset from an xlsx workbook without going
// through the HTTP API.
//
//	loader -file data/uploads/addresses.xlsx
//	loader -file addresses.xlsx -dry-run
//	loader -stats
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/viability/internal/application"
	"github.com/JonMunkholm/viability/internal/config"
	"github.com/JonMunkholm/viability/internal/core"
	"github.com/JonMunkholm/viability/internal/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("loader", flag.ContinueOnError)
	file := fs.String("file", "", "xlsx workbook to load")
	dryRun := fs.Bool("dry-run", false, "parse the workbook and print per-sheet counts without storing")
	showStats := fs.Bool("stats", false, "print dataset statistics")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" && !*showStats {
		fs.Usage()
		return errors.New("-file or -stats is required")
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if *dryRun {
		if *file == "" {
			return errors.New("-dry-run requires -file")
		}
		return dryRunParse(*file, out)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := application.Bootstrap(ctx, cfg, application.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("close resources", "error", err)
		}
	}()

	if _, err := app.Service.Restore(ctx); err != nil {
		return err
	}

	if *file != "" {
		res := app.Service.ReloadFile(ctx, *file)
		if !res.Success {
			return fmt.Errorf("%s (%s): %w", res.Message, res.Failure, res.Err)
		}
		fmt.Fprintf(out, "%s in %.2fs\n", res.Message, res.ElapsedSeconds)
	}

	if *showStats {
		printStats(out, app.Service.Stats())
	}
	return nil
}

func dryRunParse(path string, out io.Writer) error {
	wb, err := core.OpenWorkbookFile(path)
	if err != nil {
		return err
	}
	defer wb.Close()

	fmt.Fprintf(out, "%s: %d sheet(s)\n", filepath.Base(path), len(wb.Sheets()))
	total := 0
	for _, err := range wb.Records() {
		if err != nil {
			return err
		}
		total++
	}
	for _, sc := range wb.SheetCounts() {
		fmt.Fprintf(out, "%-30s %8d\n", sc.Sheet, sc.Records)
	}
	fmt.Fprintf(out, "%-30s %8d\n", "TOTAL", total)
	if total == 0 {
		return core.ErrEmptySource
	}
	return nil
}

func printStats(out io.Writer, res core.StatsResult) {
	if !res.Populated {
		fmt.Fprintln(out, "No records loaded.")
		return
	}
	fmt.Fprintf(out, "Total records: %d (loaded %s)\n", res.Stats.Total, res.LoadedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprintln(out, "\nBy viability:")
	for _, b := range core.Ranked(res.Stats.ByViability) {
		fmt.Fprintf(out, "  %-30s %8d\n", b.Key, b.Count)
	}
	fmt.Fprintln(out, "\nBy municipality:")
	for _, b := range core.Ranked(res.Stats.ByMunicipality) {
		fmt.Fprintf(out, "  %-30s %8d\n", b.Key, b.Count)
	}
}
