// Package receiving resolves scanned codes against open purchase orders and
// applies receipt increments.
package receiving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/backroomhq/backroom/internal/cache"
	"github.com/backroomhq/backroom/internal/observability"
	"github.com/backroomhq/backroom/internal/storage"
)

// ProductStore is the product lookup surface the engine needs.
type ProductStore interface {
	GetByCode(ctx context.Context, code string) (*storage.Product, error)
	IncrementStock(ctx context.Context, id uuid.UUID) (int, error)
}

// OrderStore is the purchase-order surface the engine needs.
type OrderStore interface {
	OpenCandidates(ctx context.Context, sku string) ([]storage.OpenCandidate, error)
	ApplyReceipt(ctx context.Context, poID int64, sku string) (*storage.POItem, error)
}

// Hint carries the caller's disambiguation context for one scan.
// At most one of POID and SkipPOCheck is meaningful; SkipPOCheck wins.
type Hint struct {
	POID        *int64
	SkipPOCheck bool
}

// Kind classifies a resolution outcome.
type Kind string

const (
	// KindNotFound means the code matched no product. Nothing is recorded.
	KindNotFound Kind = "not_found"
	// KindMultiplePOs means the operator must choose among open orders.
	KindMultiplePOs Kind = "multiple_pos"
	// KindResolved means a receipt was applied (or recorded ad-hoc).
	KindResolved Kind = "received"
)

// POOption is one disambiguation choice presented to the operator.
type POOption struct {
	POID         int64  `json:"po_id"`
	SupplierName string `json:"supplier_name"`
	MissingQty   int    `json:"missing_qty"`
}

// Outcome is the result of resolving one scanned code.
type Outcome struct {
	Kind    Kind
	Product *storage.Product
	// Receipt is the updated line item; nil for an ad-hoc receipt.
	Receipt *storage.POItem
	Options []POOption
	// Warning is set when an explicit PO hint named an order that has no line
	// for this product. The receipt is recorded ad-hoc in that case.
	Warning string
}

// Engine resolves scanned codes. Resolution is stateless between calls: a
// disambiguation round trip resubmits the same code with the chosen PO id,
// and the engine re-derives everything. Safe to replay at the cost of one
// extra round trip.
type Engine struct {
	logger   *observability.Logger
	products ProductStore
	orders   OrderStore
	cache    cache.Client
	cacheTTL time.Duration
}

// Config holds engine configuration.
type Config struct {
	CacheTTL time.Duration
}

// NewEngine creates a reconciliation engine. The cache client is optional;
// it short-circuits product lookups on the scan hot path.
func NewEngine(logger *observability.Logger, products ProductStore, orders OrderStore, c cache.Client, cfg Config) *Engine {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Engine{
		logger:   logger.WithComponent("receiving"),
		products: products,
		orders:   orders,
		cache:    c,
		cacheTTL: ttl,
	}
}

// Resolve maps a scanned code to a receipt outcome.
func (e *Engine) Resolve(ctx context.Context, code string, hint Hint) (*Outcome, error) {
	if code == "" {
		return nil, errors.New("receiving: empty code")
	}

	product, err := e.lookupProduct(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Info().Str("code", code).Msg("Scanned code matched no product")
		return &Outcome{Kind: KindNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup product: %w", err)
	}

	// Operator explicitly opted out of order tracking for this scan.
	if hint.SkipPOCheck {
		return e.finishAdHoc(ctx, product, "")
	}

	// The caller already disambiguated; apply directly, bypassing the
	// candidate search regardless of ambiguity.
	if hint.POID != nil && *hint.POID > 0 {
		return e.applyTo(ctx, product, *hint.POID)
	}

	candidates, err := e.orders.OpenCandidates(ctx, product.SKU)
	if err != nil {
		return nil, fmt.Errorf("find open candidates: %w", err)
	}

	switch len(candidates) {
	case 0:
		// Known product, no open order: record as an ad-hoc receipt.
		return e.finishAdHoc(ctx, product, "")
	case 1:
		return e.applyTo(ctx, product, candidates[0].POID)
	default:
		options := make([]POOption, 0, len(candidates))
		for _, c := range candidates {
			options = append(options, POOption{
				POID:         c.POID,
				SupplierName: c.SupplierName,
				MissingQty:   c.MissingQty(),
			})
		}
		// Largest deficit first: receiving for the most urgent order should
		// be the top choice.
		sort.SliceStable(options, func(i, j int) bool {
			return options[i].MissingQty > options[j].MissingQty
		})
		return &Outcome{Kind: KindMultiplePOs, Product: product, Options: options}, nil
	}
}

func (e *Engine) applyTo(ctx context.Context, product *storage.Product, poID int64) (*Outcome, error) {
	item, err := e.orders.ApplyReceipt(ctx, poID, product.SKU)
	if errors.Is(err, storage.ErrNotFound) {
		// The hinted order has no line for this product. Record the receipt
		// anyway, flagged for the operator.
		return e.finishAdHoc(ctx, product, "item not found in this PO")
	}
	if err != nil {
		return nil, fmt.Errorf("apply receipt: %w", err)
	}

	out, err := e.finishAdHoc(ctx, product, "")
	if err != nil {
		return nil, err
	}
	out.Receipt = item

	e.logger.Info().
		Str("sku", product.SKU).
		Int64("po_id", poID).
		Int("qty_received", item.QtyReceived).
		Int("qty_ordered", item.QtyOrdered).
		Str("line_status", string(item.Status)).
		Msg("Receipt applied")
	return out, nil
}

func (e *Engine) finishAdHoc(ctx context.Context, product *storage.Product, warning string) (*Outcome, error) {
	stock, err := e.products.IncrementStock(ctx, product.ID)
	if err != nil {
		return nil, fmt.Errorf("increment stock: %w", err)
	}
	product.StockOnHand = stock
	e.refreshCache(ctx, product)

	return &Outcome{
		Kind:    KindResolved,
		Product: product,
		Warning: warning,
	}, nil
}

func (e *Engine) lookupProduct(ctx context.Context, code string) (*storage.Product, error) {
	if e.cache != nil {
		if data, err := e.cache.Get(ctx, productKey(code)); err == nil {
			var p storage.Product
			if err := json.Unmarshal(data, &p); err == nil {
				return &p, nil
			}
		}
	}

	product, err := e.products.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	e.refreshCache(ctx, product)
	return product, nil
}

func (e *Engine) refreshCache(ctx context.Context, p *storage.Product) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	for _, code := range []string{p.SKU, p.Barcode} {
		if code == "" {
			continue
		}
		if err := e.cache.Set(ctx, productKey(code), data, e.cacheTTL); err != nil {
			e.logger.Warn().Err(err).Str("code", code).Msg("Product cache refresh failed")
		}
	}
}

func productKey(code string) string {
	return "product:code:" + code
}
