// Copyright 2025 Condor Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/condorlabs/dteingest/export"
	"github.com/condorlabs/dteingest/ingestion"
	"github.com/condorlabs/dteingest/storage/postgres"
)

func main() {
	app := &cli.App{
		Name:  "dteingest",
		Usage: "Ingest DTE invoice documents into the shared reporting store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Process a directory of DTE XML files into the store",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "directory",
						Aliases:  []string{"d"},
						Usage:    "Directory holding the DTE XML files",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "dsn",
						Usage:   "Postgres connection string",
						EnvVars: []string{"DTEINGEST_DSN"},
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Batch size hint for store writes",
						Value: 50,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for store operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Worker unit count (0 selects CPU count minus one)",
					},
					&cli.BoolFlag{
						Name:  "all-months",
						Usage: "Do not restrict ingestion to the current calendar month",
					},
				},
			},
			{
				Name:   "export",
				Usage:  "Write CSV reports from a directory of DTE XML files",
				Action: exportCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "directory",
						Aliases:  []string{"d"},
						Usage:    "Directory holding the DTE XML files",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Directory the CSV reports are written to",
						Value:   "exports",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func ingestCommand(c *cli.Context) error {
	ctx := context.Background()

	dsn := c.String("dsn")
	if dsn == "" {
		return fmt.Errorf("a Postgres DSN is required (--dsn or DTEINGEST_DSN)")
	}

	store, err := postgres.Open(ctx, postgres.Config{
		DSN:            dsn,
		MaxAttempts:    c.Int("max-retries"),
		RetryBaseDelay: c.Duration("retry-delay"),
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	slog.Info("store connection established")

	coordinator, err := ingestion.NewCoordinator(store, ingestion.Config{
		SourceDir:        c.String("directory"),
		BatchSize:        c.Int("batch-size"),
		MaxRetries:       c.Int("max-retries"),
		CurrentMonthOnly: !c.Bool("all-months"),
		Workers:          c.Int("workers"),
	})
	if err != nil {
		return err
	}

	start := time.Now()
	stats, err := coordinator.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	duration := time.Since(start)

	fmt.Fprintln(os.Stderr, "\n=== Ingestion Statistics ===")
	fmt.Fprintf(os.Stderr, "Duration:            %.2fs\n", duration.Seconds())
	fmt.Fprintf(os.Stderr, "Documents found:     %d\n", stats.TotalFiles)
	fmt.Fprintf(os.Stderr, "Non-XML files:       %d\n", stats.NonXML)
	fmt.Fprintf(os.Stderr, "Already processed:   %d\n", stats.AlreadyProcessed)
	fmt.Fprintf(os.Stderr, "Hash errors:         %d\n", stats.HashErrors)
	fmt.Fprintf(os.Stderr, "No admitted records: %d\n", stats.NoValidInfo)
	fmt.Fprintf(os.Stderr, "Processing errors:   %d\n", stats.ProcessingErrors)
	fmt.Fprintf(os.Stderr, "Records persisted:   %d\n", stats.Success)
	fmt.Fprintf(os.Stderr, "Duplicates dropped:  %d\n", stats.DuplicateItems)
	fmt.Fprintln(os.Stderr, "============================")

	if stats.ProcessingErrors > 0 {
		slog.Warn("run finished with errors", "count", stats.ProcessingErrors)
	}
	return nil
}

func exportCommand(c *cli.Context) error {
	result, err := export.NewExporter(nil).Export(c.String("directory"), c.String("output"))
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if result == nil {
		fmt.Fprintln(os.Stderr, "No data to export")
		return nil
	}

	fmt.Fprintf(os.Stderr, "Exported %d records\n", result.TotalRecords)
	fmt.Fprintf(os.Stderr, "Data:    %s\n", result.DataFile)
	fmt.Fprintf(os.Stderr, "Summary: %s\n", result.SummaryFile)
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
