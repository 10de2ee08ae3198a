package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/backroomhq/backroom/internal/ingest"
)

// newIngestCmd creates the ingest subcommand.
func newIngestCmd() *cobra.Command {
	var (
		serverURL  string
		supplierID int64
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Run a catalog document through extraction",
		Long: `Ingest uploads a brochure or catalog document to the server, triggers
extraction, and polls until a product preview is ready.

With --supplier, extraction is scoped to the SKUs ordered from that
supplier; detected items outside the order are reported as unmatched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()

			var supplier *int64
			if supplierID > 0 {
				supplier = &supplierID
			}
			if interval <= 0 {
				interval = cfg.Ingest.PollInterval
			}

			return runIngest(cmd.Context(), serverURL, filepath.Base(path), f, supplier, interval)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Backroom API base URL")
	cmd.Flags().Int64Var(&supplierID, "supplier", 0, "supplier ID to scope extraction to")
	cmd.Flags().DurationVar(&interval, "poll-interval", 0, "status poll interval (default: from config)")

	return cmd
}

func runIngest(ctx context.Context, serverURL, filename string, r *os.File, supplierID *int64, interval time.Duration) error {
	ui := NewUI(outputJSON)
	client := ingest.NewClient(serverURL)
	coord := ingest.NewCoordinator(logger, client, interval)

	// Cancel the run on Ctrl-C instead of leaving the poller behind.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		mu   sync.Mutex
		bar  *ProgressBar
		done = make(chan ingest.State, 1)
	)
	coord.OnUpdate(func(state ingest.State, job ingest.Job) {
		switch state {
		case ingest.StatePolling:
			if outputJSON || job.TotalPages <= 0 {
				return
			}
			mu.Lock()
			if bar == nil {
				bar = NewProgressBar(int64(job.TotalPages), "Extracting pages")
			}
			bar.SetTotal(int64(job.TotalPages))
			bar.Set(int64(job.CurrentPage))
			mu.Unlock()
		case ingest.StatePreviewReady, ingest.StateFailed:
			select {
			case done <- state:
			default:
			}
		}
	})

	ui.Step("Uploading %s", filename)
	if err := coord.Submit(ctx, filename, r, supplierID); err != nil {
		ui.Error("Extraction failed: %v", err)
		return err
	}
	ui.Step("Extraction triggered, waiting for preview")

	var final ingest.State
	select {
	case final = <-done:
	case <-ctx.Done():
		coord.Cancel()
		ui.Warning("Extraction cancelled")
		return ctx.Err()
	}

	mu.Lock()
	if bar != nil {
		bar.Finish()
	}
	mu.Unlock()

	if final == ingest.StateFailed {
		err := coord.Err()
		ui.Error("Extraction failed: %v", err)
		return err
	}

	preview := coord.Preview()
	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(preview)
	}

	ui.Success("Extraction complete: %d products detected", len(preview.Products))
	for _, p := range preview.Products {
		fmt.Printf("  %-20s %s\n", p.SKU, p.Title)
	}
	if len(preview.MissingSKUs) > 0 {
		ui.Warning("%d ordered SKUs not found in the document:", len(preview.MissingSKUs))
		for _, sku := range preview.MissingSKUs {
			fmt.Printf("  %s\n", sku)
		}
	}
	ui.Info("Review and approve the preview in the store UI")
	return nil
}
