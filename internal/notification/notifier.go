package notification

import (
	"context"
	"fmt"
	"time"

	"choch-scanner/internal/database"
	"choch-scanner/internal/events"
	"choch-scanner/internal/logging"
)

// Broadcaster pushes one alert record to connected dashboard clients.
type Broadcaster interface {
	BroadcastAlert(alert *database.Alert)
}

// AlertStore persists alert records. Implemented by database.Repository.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *database.Alert) error
}

// Notifier is the signal-bus subscriber that turns a confirmed signal into
// an alert: Telegram message, dashboard broadcast, persisted record. Each
// channel is best-effort; a failure is logged and the others still run.
type Notifier struct {
	telegram    *TelegramSender
	broadcaster Broadcaster
	store       AlertStore
	region      string
	logger      *logging.Logger
}

// NewNotifier wires the notifier. broadcaster and store may be nil when the
// dashboard or persistence is not configured.
func NewNotifier(telegram *TelegramSender, broadcaster Broadcaster, store AlertStore) *Notifier {
	return &Notifier{
		telegram:    telegram,
		broadcaster: broadcaster,
		store:       store,
		region:      "in",
		logger:      logging.WithComponent("notifier"),
	}
}

// HandleSignal is the bus subscription entry point.
func (n *Notifier) HandleSignal(sig events.Signal) error {
	alert := n.buildAlert(sig)

	if n.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := n.store.InsertAlert(ctx, alert); err != nil {
			n.logger.Error("Failed to persist alert",
				"symbol", alert.Symbol, "timeframe", alert.Timeframe, "error", err.Error())
		}
		cancel()
	}

	if n.broadcaster != nil {
		n.broadcaster.BroadcastAlert(alert)
	}

	if err := n.telegram.Send(FormatAlert(alert)); err != nil {
		n.logger.Error("Failed to send Telegram alert",
			"symbol", alert.Symbol, "timeframe", alert.Timeframe, "error", err.Error())
		return nil
	}

	if n.telegram.Enabled() {
		n.logger.Info("Alert delivered",
			"symbol", alert.Symbol, "timeframe", alert.Timeframe, "signal", alert.SignalType)
	}
	return nil
}

// buildAlert converts a signal into the persisted alert shape.
func (n *Notifier) buildAlert(sig events.Signal) *database.Alert {
	return &database.Alert{
		Symbol:          sig.Symbol,
		Timeframe:       sig.Timeframe,
		SignalType:      sig.SignalType(),
		Direction:       string(sig.Direction),
		PatternGroup:    sig.PatternGroup,
		Price:           sig.ChochPrice,
		SignalTimestamp: sig.Timestamp.UTC(),
		ChartLink:       ChartLink(sig.Symbol, sig.Timeframe, true),
		IsFutures:       true,
		Region:          n.region,
	}
}

// FormatAlert renders the fixed Telegram message for one alert.
func FormatAlert(alert *database.Alert) string {
	return fmt.Sprintf(
		"🚨 *CHoCH SIGNAL DETECTED* 🚨\n\n"+
			"⏰ *Time:* %s\n"+
			"💰 *Symbol:* %s\n"+
			"📊 *Timeframe:* %s\n"+
			"📈 *Direction:* %s\n"+
			"🎯 *Signal:* %s (%s)\n"+
			"💵 *Price:* $%s\n\n"+
			"🔗 [View on TradingView](%s)",
		alert.SignalTimestamp.UTC().Format("2006-01-02 15:04:05"),
		alert.Symbol,
		alert.Timeframe,
		alert.Direction,
		alert.SignalType,
		alert.PatternGroup,
		formatPrice(alert.Price),
		alert.ChartLink,
	)
}

// formatPrice renders prices with thousand separators and two decimals for
// large values, full precision for sub-dollar ones.
func formatPrice(price float64) string {
	if price >= 1 {
		s := fmt.Sprintf("%.2f", price)
		return addThousandSeparators(s)
	}
	return fmt.Sprintf("%.8f", price)
}

func addThousandSeparators(s string) string {
	dot := len(s)
	for i, r := range s {
		if r == '.' {
			dot = i
			break
		}
	}
	intPart, rest := s[:dot], s[dot:]

	var out []byte
	for i, c := range []byte(intPart) {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out) + rest
}
