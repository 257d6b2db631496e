package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run mounts the view on symbolID and logs its state changes and
// notifications until ctx is canceled or SIGINT/SIGTERM arrives.
func Run(ctx context.Context, v *MarketView, symbolID int64) error {
	v.logger.Info(ctx, "Starting market view...", map[string]interface{}{"symbolId": symbolID})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			v.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := v.Mount(ctx, symbolID); err != nil {
		// The initial connect is not retried; the view stays up so a later
		// Reconnect can recover. Headless runs have nobody to ask, so stop.
		v.logger.Error(ctx, err, "Failed to mount market view")
		if uerr := v.Unmount(); uerr != nil {
			v.logger.Error(ctx, uerr, "Error unmounting market view")
		}
		return fmt.Errorf("failed to mount market view: %w", err)
	}

	updates, notes := v.Updates(), v.Notifications()
	var lastLogged time.Time
	for {
		select {
		case <-ctx.Done():
			v.logger.Info(ctx, "Main context cancelled, initiating shutdown...")
			if err := v.Unmount(); err != nil {
				v.logger.Error(context.Background(), err, "Error unmounting market view")
				return err
			}
			v.logger.Info(context.Background(), "Market view stopped.")
			return nil

		case st, ok := <-updates:
			if !ok {
				return nil
			}
			// Ticks can arrive many times a second; one line per second is enough.
			if time.Since(lastLogged) < time.Second {
				continue
			}
			lastLogged = time.Now()
			logState(ctx, v, st)

		case n, ok := <-notes:
			if !ok {
				return nil
			}
			fields := map[string]interface{}{"level": string(n.Level)}
			if n.Level == NotifyError {
				v.logger.Warn(ctx, n.Message, fields)
			} else {
				v.logger.Info(ctx, n.Message, fields)
			}
		}
	}
}

func logState(ctx context.Context, v *MarketView, st ViewState) {
	fields := map[string]interface{}{
		"symbolId": st.SymbolID,
		"status":   string(st.Status),
		"points":   st.Points,
	}
	if st.Current != nil {
		fields["price"] = st.Current.Price().String()
	}
	if st.HasChange {
		fields["change"] = st.Change.StringFixed(2)
		fields["changePct"] = st.ChangePercent.StringFixed(2)
	}
	if val := st.Valuation; !val.Empty {
		fields["quantity"] = val.Quantity
		if val.Priced {
			fields["value"] = val.CurrentValue.StringFixed(2)
			fields["pnl"] = val.ProfitLoss.StringFixed(2)
			fields["pnlPct"] = val.ProfitPercent.StringFixed(2)
		}
	}
	v.logger.Debug(ctx, "Market view updated", fields)
}
