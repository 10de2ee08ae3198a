package main

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backroomhq/backroom/internal/observability"
	"github.com/backroomhq/backroom/internal/receiving"
	"github.com/backroomhq/backroom/internal/scan"
	"github.com/backroomhq/backroom/internal/storage"
)

// scriptedResolver answers multiple open orders until a PO hint arrives,
// recording every call.
type scriptedResolver struct {
	mu    sync.Mutex
	calls []struct {
		code string
		hint receiving.Hint
	}
}

func (r *scriptedResolver) Resolve(_ context.Context, code string, hint receiving.Hint) (*receiving.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, struct {
		code string
		hint receiving.Hint
	}{code, hint})

	product := &storage.Product{SKU: "SKU-1", Title: "Enamel Mug"}
	if hint.POID != nil {
		return &receiving.Outcome{
			Kind:    receiving.KindResolved,
			Product: product,
			Receipt: &storage.POItem{POID: *hint.POID, SKU: "SKU-1", QtyOrdered: 5, QtyReceived: 1},
		}, nil
	}
	return &receiving.Outcome{
		Kind:    receiving.KindMultiplePOs,
		Product: product,
		Options: []receiving.POOption{
			{POID: 7, SupplierName: "Acme", MissingQty: 3},
			{POID: 9, SupplierName: "Globex", MissingQty: 1},
		},
	}, nil
}

func TestScanSession_DisambiguationResubmitsScannedCode(t *testing.T) {
	resolver := &scriptedResolver{}
	gate := scan.NewGate(observability.Nop(), resolver, scan.NewHistory(10))
	session := &scanSession{ui: NewUI(true), gate: gate}

	// The operator scans a barcode, not the SKU it resolves to.
	const scanned = "4006381333931"
	ctx := context.Background()
	session.setLast(scanned)
	out, err := gate.Submit(ctx, scanned, scan.Options{})
	require.NoError(t, err)
	session.handleOutcome(out)

	session.mu.Lock()
	pending := session.pending
	session.mu.Unlock()
	assert.Equal(t, scanned, pending, "prompt must hold the scanned code")

	require.True(t, session.handlePendingChoice(ctx, "7"))

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	require.Len(t, resolver.calls, 2)
	assert.Equal(t, scanned, resolver.calls[1].code, "retry must resubmit the scanned code")
	require.NotNil(t, resolver.calls[1].hint.POID)
	assert.EqualValues(t, 7, *resolver.calls[1].hint.POID)
}

func TestScanSession_SkippedChoiceClearsPrompt(t *testing.T) {
	resolver := &scriptedResolver{}
	gate := scan.NewGate(observability.Nop(), resolver, scan.NewHistory(10))
	session := &scanSession{ui: NewUI(true), gate: gate}

	ctx := context.Background()
	session.setLast("SKU-1")
	out, err := gate.Submit(ctx, "SKU-1", scan.Options{})
	require.NoError(t, err)
	session.handleOutcome(out)

	require.True(t, session.handlePendingChoice(ctx, ""))
	assert.Equal(t, scan.StateReady, gate.State())

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	assert.Len(t, resolver.calls, 1, "skipping must not resubmit")
}
