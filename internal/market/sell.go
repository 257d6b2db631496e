package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

// GenericSellFailure is shown when a failed sell carries no server message.
const GenericSellFailure = "The sale could not be completed. Please try again later."

// SellSubmitter is the part of ports.MarketAPI the sell workflow needs.
type SellSubmitter interface {
	SubmitSell(ctx context.Context, order domain.SellOrder) (*domain.SellReceipt, error)
}

// SellPhase is the sell dialog state.
type SellPhase string

const (
	SellIdle       SellPhase = "idle"
	SellConfirming SellPhase = "confirming"
	SellSelling    SellPhase = "selling"
)

// SellOutcome is the result of one executed order.
type SellOutcome struct {
	Order   domain.SellOrder
	Receipt *domain.SellReceipt
	Err     error
	Message string // text for the user
}

// Succeeded reports whether the order executed.
func (o SellOutcome) Succeeded() bool { return o.Err == nil }

// FailureMessage picks the server message from err, or the generic text.
func FailureMessage(err error) string {
	if msg, ok := ports.UserMessage(err); ok {
		return msg
	}
	return GenericSellFailure
}

// SellConfig holds the sell workflow dependencies. Journal is optional.
type SellConfig struct {
	API     SellSubmitter
	Journal ports.SellJournal
	Logger  ports.Logger
	Now     func() time.Time
}

// SellWorkflow runs idle -> confirming -> selling -> idle. Failed orders
// are reported once and never retried.
type SellWorkflow struct {
	api     SellSubmitter
	journal ports.SellJournal
	logger  ports.Logger
	now     func() time.Time

	mu        sync.Mutex
	phase     SellPhase
	onSuccess []func(context.Context, SellOutcome)
}

// NewSellWorkflow creates an idle workflow.
func NewSellWorkflow(cfg SellConfig) (*SellWorkflow, error) {
	if cfg.API == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for SellWorkflow")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SellWorkflow{api: cfg.API, journal: cfg.Journal, logger: cfg.Logger, now: now, phase: SellIdle}, nil
}

// OnSuccess registers a callback run after every successful sell, before Execute returns.
func (w *SellWorkflow) OnSuccess(fn func(context.Context, SellOutcome)) {
	w.mu.Lock()
	w.onSuccess = append(w.onSuccess, fn)
	w.mu.Unlock()
}

// Phase returns the current dialog state.
func (w *SellWorkflow) Phase() SellPhase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Begin opens the confirmation step. It refuses when there is nothing to sell.
func (w *SellWorkflow) Begin(v Valuation) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase != SellIdle {
		return fmt.Errorf("BeginSell failed: %w", ports.ErrSellInProgress)
	}
	if !v.Sellable() {
		return fmt.Errorf("BeginSell failed: %w", ports.ErrEmptyHolding)
	}
	w.phase = SellConfirming
	return nil
}

// Cancel closes the confirmation step. It has no effect once selling.
func (w *SellWorkflow) Cancel() {
	w.mu.Lock()
	if w.phase == SellConfirming {
		w.phase = SellIdle
	}
	w.mu.Unlock()
}

// Confirm validates the quantity against the holding and fixes the order at
// the current price. An invalid quantity leaves the dialog open.
func (w *SellWorkflow) Confirm(quantity int64, v Valuation) (domain.SellOrder, error) {
	op := "ConfirmSell"
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase != SellConfirming {
		return domain.SellOrder{}, fmt.Errorf("%s failed: %w: dialog is %s", op, ports.ErrInvalidRequest, w.phase)
	}
	if !v.Sellable() {
		w.phase = SellIdle
		return domain.SellOrder{}, fmt.Errorf("%s failed: %w", op, ports.ErrEmptyHolding)
	}
	if quantity <= 0 || quantity > v.Quantity {
		return domain.SellOrder{}, fmt.Errorf("%s failed: %w: requested %d, held %d", op, ports.ErrInvalidQuantity, quantity, v.Quantity)
	}

	order := domain.SellOrder{
		ClientOrderID:       uuid.New(),
		SymbolID:            v.SymbolID,
		PriceAtConfirmation: v.CurrentPrice,
		Quantity:            quantity,
		ConfirmedAt:         w.now(),
	}
	w.phase = SellSelling
	return order, nil
}

// Execute submits a confirmed order and returns to idle whatever happens.
func (w *SellWorkflow) Execute(ctx context.Context, order domain.SellOrder) SellOutcome {
	op := "ExecuteSell"
	w.mu.Lock()
	if w.phase != SellSelling {
		w.mu.Unlock()
		err := fmt.Errorf("%s failed: %w: no confirmed order", op, ports.ErrInvalidRequest)
		return SellOutcome{Order: order, Err: err, Message: GenericSellFailure}
	}
	w.mu.Unlock()

	fields := map[string]interface{}{
		"clientOrderId": order.ClientOrderID.String(),
		"symbolId":      order.SymbolID,
		"quantity":      order.Quantity,
		"price":         order.PriceAtConfirmation.String(),
	}
	w.logger.Info(ctx, "Submitting sell order", fields)

	if w.journal != nil {
		if _, err := w.journal.RecordSubmitted(ctx, order); err != nil {
			w.logger.Error(ctx, err, "Failed to journal sell order", fields)
		}
	}

	receipt, err := w.api.SubmitSell(ctx, order)
	if err == nil && receipt == nil {
		err = fmt.Errorf("%s failed: %w: empty receipt", op, ports.ErrUnknown)
	}

	outcome := SellOutcome{Order: order, Receipt: receipt, Err: err}
	if err != nil {
		outcome.Message = FailureMessage(err)
		if !errors.Is(err, ports.ErrSellRejected) {
			w.logger.Error(ctx, err, "Sell order failed", fields)
		} else {
			w.logger.Warn(ctx, "Sell order rejected", fields)
		}
		if w.journal != nil {
			if jerr := w.journal.MarkFailed(ctx, order.ClientOrderID.String(), outcome.Message); jerr != nil {
				w.logger.Error(ctx, jerr, "Failed to journal sell failure", fields)
			}
		}
	} else {
		outcome.Message = fmt.Sprintf("Sold %d for %s points", receipt.Quantity, receipt.Proceeds.StringFixed(2))
		w.logger.Info(ctx, "Sell order executed", fields)
		if w.journal != nil {
			if jerr := w.journal.MarkSettled(ctx, order.ClientOrderID.String(), *receipt); jerr != nil {
				w.logger.Error(ctx, jerr, "Failed to journal sell receipt", fields)
			}
		}
	}

	w.mu.Lock()
	w.phase = SellIdle
	hooks := make([]func(context.Context, SellOutcome), len(w.onSuccess))
	copy(hooks, w.onSuccess)
	w.mu.Unlock()

	if outcome.Succeeded() {
		for _, fn := range hooks {
			fn(ctx, outcome)
		}
	}
	return outcome
}
