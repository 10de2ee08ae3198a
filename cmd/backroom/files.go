package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/backroomhq/backroom/internal/ingest"
)

// newFilesCmd creates the files subcommand.
func newFilesCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "files",
		Short: "List uploaded source files and their extraction status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listFiles(serverURL)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Backroom API base URL")

	return cmd
}

func listFiles(serverURL string) error {
	httpc := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpc.Get(strings.TrimRight(serverURL, "/") + "/api/ingest/files")
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("list files: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var files []ingest.FileStatus
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return fmt.Errorf("decode file list: %w", err)
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(files)
	}

	ui := NewUI(false)
	if len(files) == 0 {
		ui.Info("No files uploaded yet")
		return nil
	}
	for _, f := range files {
		status := f.Status
		if f.IsReady {
			status = "Ready"
		}
		fmt.Printf("%-40s %10d  %-10s %s\n", f.FileName, f.FileSize, status, f.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
