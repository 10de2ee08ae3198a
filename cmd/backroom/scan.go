package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/backroomhq/backroom/internal/receiving"
	"github.com/backroomhq/backroom/internal/scan"
	"github.com/backroomhq/backroom/internal/storage"
)

// newScanCmd creates the scan subcommand.
func newScanCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Receive a delivery by scanning codes",
		Long: `Scan reads barcodes or SKUs from stdin, one per line, and reconciles
each against open purchase orders on the server.

When a code maps to more than one open order, the command lists the
candidates and waits for a purchase order ID. Prefix a code with ! to
force past duplicate suppression.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScanSession(cmd.Context(), serverURL)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Backroom API base URL")

	return cmd
}

// httpResolver resolves scans against the server's reconciliation endpoint.
type httpResolver struct {
	baseURL string
	httpc   *http.Client
}

func newHTTPResolver(baseURL string) *httpResolver {
	return &httpResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *httpResolver) Resolve(ctx context.Context, code string, hint receiving.Hint) (*receiving.Outcome, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"code":          code,
		"po_id":         hint.POID,
		"skip_po_check": hint.SkipPOCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("encode scan payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/scan/item", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("scan request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var body struct {
		Status    string               `json:"status"`
		Product   *storage.Product     `json:"product"`
		POItem    *storage.POItem      `json:"po_item"`
		POOptions []receiving.POOption `json:"po_options"`
		Warning   string               `json:"warning"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode scan response: %w", err)
	}

	return &receiving.Outcome{
		Kind:    receiving.Kind(body.Status),
		Product: body.Product,
		Receipt: body.POItem,
		Options: body.POOptions,
		Warning: body.Warning,
	}, nil
}

// scanSession drives one interactive receiving session over stdin.
type scanSession struct {
	ui   *UI
	gate *scan.Gate

	mu      sync.Mutex
	last    string // most recently submitted code
	pending string // scanned code awaiting a purchase order choice
}

// setLast records the code about to be submitted. A disambiguation retry
// resubmits this exact code, not the SKU it resolved to.
func (s *scanSession) setLast(code string) {
	s.mu.Lock()
	s.last = code
	s.mu.Unlock()
}

func runScanSession(ctx context.Context, serverURL string) error {
	ui := NewUI(outputJSON)
	history := scan.NewHistory(cfg.Scan.HistoryLimit)
	gate := scan.NewGate(logger, newHTTPResolver(serverURL), history)
	source := scan.NewSource(cfg.Scan.SourceBuffer)

	session := &scanSession{ui: ui, gate: gate}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go gate.Run(ctx, source, session.handleOutcome)

	ui.Info("Scan codes one per line. Prefix with ! to force, press Enter to dismiss a prompt, type q to finish.")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "q" || line == "quit" {
			break
		}
		if session.handlePendingChoice(ctx, line) {
			continue
		}
		if line == "" {
			gate.Dismiss()
			continue
		}
		if code, ok := strings.CutPrefix(line, "!"); ok {
			// Manual entry bypasses duplicate suppression and prompt pauses.
			code = strings.TrimSpace(code)
			session.setLast(code)
			out, err := gate.Submit(ctx, code, scan.Options{Force: true})
			session.report(out, err)
			continue
		}
		session.setLast(line)
		source.Emit(line)
	}
	source.Stop()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	ui.Info("Session finished: %d items received", history.Len())
	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(history.All())
	}
	return nil
}

// handlePendingChoice consumes the operator's answer to a multiple-orders
// prompt. It reports whether the line was handled.
func (s *scanSession) handlePendingChoice(ctx context.Context, line string) bool {
	s.mu.Lock()
	code := s.pending
	s.pending = ""
	s.mu.Unlock()
	if code == "" {
		return false
	}

	s.gate.Dismiss()
	if line == "" {
		s.ui.Warning("Skipped %s", code)
		return true
	}

	poID, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		s.ui.Warning("Not a purchase order ID, skipped %s", code)
		return true
	}

	out, err := s.gate.Submit(ctx, code, scan.Options{
		Force: true,
		Hint:  receiving.Hint{POID: &poID},
	})
	s.report(out, err)
	return true
}

func (s *scanSession) report(out *receiving.Outcome, err error) {
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrDuplicate):
			s.ui.Warning("Duplicate of last scan, prefix with ! to force")
		case errors.Is(err, scan.ErrBusy), errors.Is(err, scan.ErrPaused):
			// dropped by the gate, nothing to show
		default:
			s.ui.Error("Scan failed: %v", err)
		}
		return
	}
	s.handleOutcome(out)
}

func (s *scanSession) handleOutcome(out *receiving.Outcome) {
	switch out.Kind {
	case receiving.KindNotFound:
		s.ui.Error("Unknown code, nothing recorded")

	case receiving.KindMultiplePOs:
		s.ui.Warning("%s is on %d open orders:", out.Product.SKU, len(out.Options))
		for _, opt := range out.Options {
			fmt.Printf("  PO %-6d %-24s %d outstanding\n", opt.POID, opt.SupplierName, opt.MissingQty)
		}
		s.ui.Info("Enter the PO ID to receive against, or press Enter to skip")
		s.mu.Lock()
		s.pending = s.last
		s.mu.Unlock()

	case receiving.KindResolved:
		if out.Receipt != nil {
			s.ui.Success("%s  %s  (%d of %d received)",
				out.Product.SKU, out.Product.Title, out.Receipt.QtyReceived, out.Receipt.QtyOrdered)
		} else {
			s.ui.Success("%s  %s  (ad-hoc, stock %d)",
				out.Product.SKU, out.Product.Title, out.Product.StockOnHand)
		}
		if out.Warning != "" {
			s.ui.Warning("%s", out.Warning)
		}
		// Line-oriented sessions have no confirmation overlay to hold open.
		s.gate.Dismiss()
	}
}
