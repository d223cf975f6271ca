package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"choch-scanner/config"
	"choch-scanner/internal/binance"
	"choch-scanner/internal/events"
)

// defaultPollInterval is how often open order sets are polled for fills.
const defaultPollInterval = 10 * time.Second

// Exchange is the slice of the futures client the manager needs.
type Exchange interface {
	GetMarkPrice(symbol string) (*binance.MarkPrice, error)
	SetLeverage(symbol string, leverage int) (*binance.LeverageResponse, error)
	PlaceOrder(params binance.OrderParams) (*binance.OrderResponse, error)
	CancelOrder(symbol string, orderID int64) error
	GetOrder(symbol string, orderID int64) (*binance.Order, error)
}

// SnapshotStore persists position snapshots across restarts. Implemented by
// database.PositionStore; nil disables persistence.
type SnapshotStore interface {
	Save(ctx context.Context, key string, state interface{}) error
	Delete(ctx context.Context, key string) error
	LoadAll(ctx context.Context) (map[string]json.RawMessage, error)
}

// Manager is the signal-bus subscriber that places and supervises four-order
// position sets. One live position per (symbol, timeframe); a new signal for
// an occupied slot cancels and force-closes the old set first.
type Manager struct {
	exchange Exchange
	store    SnapshotStore
	cfg      config.TradingConfig
	logger   zerolog.Logger

	mu        sync.Mutex
	positions map[string]*Position

	pollInterval time.Duration
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// NewManager creates an order manager. store may be nil.
func NewManager(exchange Exchange, store SnapshotStore, cfg config.TradingConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		exchange:     exchange,
		store:        store,
		cfg:          cfg,
		logger:       logger.With().Str("component", "OrderManager").Logger(),
		positions:    make(map[string]*Position),
		pollInterval: defaultPollInterval,
		stopChan:     make(chan struct{}),
	}
}

// Restore loads persisted position snapshots so order supervision resumes
// after a restart.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	snapshots, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load position snapshots: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, raw := range snapshots {
		pos := &Position{}
		if err := json.Unmarshal(raw, pos); err != nil {
			m.logger.Error().Str("key", key).Err(err).Msg("Discarding unreadable position snapshot")
			continue
		}
		if pos.Status == StatusClosed {
			continue
		}
		m.positions[key] = pos
		m.logger.Info().
			Str("key", key).
			Str("status", string(pos.Status)).
			Msg("Restored position")
	}
	return nil
}

// Start begins the fill-polling loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.monitorLoop()
	m.logger.Info().Dur("interval", m.pollInterval).Msg("Order monitoring started")
}

// Stop terminates the polling loop and waits for it.
func (m *Manager) Stop() {
	close(m.stopChan)
	m.wg.Wait()
	m.logger.Info().Msg("Order monitoring stopped")
}

// HandleSignal is the bus subscription entry point: validate the signal,
// clear any position occupying the slot, and place the four-order set.
func (m *Manager) HandleSignal(sig events.Signal) error {
	if err := validateSignal(sig); err != nil {
		m.logger.Warn().
			Str("symbol", sig.Symbol).
			Str("timeframe", sig.Timeframe).
			Err(err).
			Msg("Signal rejected")
		return err
	}

	// Skip the whole set when price has already run past the target.
	mark, err := m.exchange.GetMarkPrice(sig.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch mark price for %s: %w", sig.Symbol, err)
	}
	if markPastTP(sig, mark.MarkPrice) {
		m.logger.Warn().
			Str("symbol", sig.Symbol).
			Float64("mark", mark.MarkPrice).
			Float64("tp", sig.TakeProfit).
			Msg("Mark price already past TP, skipping signal")
		return ErrMarkPastTP
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := sig.Symbol + "_" + sig.Timeframe
	if existing, ok := m.positions[key]; ok {
		m.logger.Warn().
			Str("key", key).
			Str("status", string(existing.Status)).
			Msg("Slot occupied, force closing old position")
		m.closeLocked(existing, CloseReasonForced, 0, true)
	}

	return m.openLocked(sig, key)
}

// openLocked places the four-order set. Callers hold m.mu.
func (m *Manager) openLocked(sig events.Signal, key string) error {
	pos := &Position{
		ID:              uuid.New().String(),
		Symbol:          sig.Symbol,
		Timeframe:       sig.Timeframe,
		Direction:       sig.Direction,
		PatternGroup:    sig.PatternGroup,
		SignalTimestamp: sig.Timestamp,
		ChochPrice:      sig.ChochPrice,
		Entry1Price:     sig.Entry1,
		Entry2Price:     sig.Entry2,
		TPPrice:         sig.TakeProfit,
		SLPrice:         sig.StopLoss,
		Pivot5:          sig.Pivot5,
		Pivot6:          sig.Pivot6,
		Pivot8:          sig.Pivot8,
		Status:          StatusPending,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	entrySide, exitSide := "BUY", "SELL"
	if sig.Direction == events.DirectionShort {
		entrySide, exitSide = "SELL", "BUY"
	}

	// Half the notional per entry.
	notionalPerEntry := m.cfg.PositionSize * float64(m.cfg.Leverage) / 2
	entry1Qty := notionalPerEntry / sig.Entry1
	entry2Qty := notionalPerEntry / sig.Entry2

	if _, err := m.exchange.SetLeverage(sig.Symbol, m.cfg.Leverage); err != nil {
		return fmt.Errorf("failed to set leverage on %s: %w", sig.Symbol, err)
	}

	m.logger.Info().
		Str("key", key).
		Str("direction", string(sig.Direction)).
		Str("group", sig.PatternGroup).
		Float64("entry1", sig.Entry1).
		Float64("entry2", sig.Entry2).
		Float64("tp", sig.TakeProfit).
		Float64("sl", sig.StopLoss).
		Float64("qty1", entry1Qty).
		Float64("qty2", entry2Qty).
		Msg("Placing position set")

	specs := []struct {
		purpose OrderPurpose
		params  binance.OrderParams
	}{
		{PurposeEntry1, binance.OrderParams{
			Symbol: sig.Symbol, Side: entrySide, Type: binance.OrderTypeLimit,
			Quantity: entry1Qty, Price: sig.Entry1, TimeInForce: binance.TimeInForceGTC,
		}},
		{PurposeEntry2, binance.OrderParams{
			Symbol: sig.Symbol, Side: entrySide, Type: binance.OrderTypeLimit,
			Quantity: entry2Qty, Price: sig.Entry2, TimeInForce: binance.TimeInForceGTC,
		}},
		{PurposeTakeProfit, binance.OrderParams{
			Symbol: sig.Symbol, Side: exitSide, Type: binance.OrderTypeTakeProfitMarket,
			StopPrice: sig.TakeProfit, ClosePosition: true, WorkingType: binance.WorkingTypeMarkPrice,
		}},
		{PurposeStopLoss, binance.OrderParams{
			Symbol: sig.Symbol, Side: exitSide, Type: binance.OrderTypeStopMarket,
			StopPrice: sig.StopLoss, ClosePosition: true, WorkingType: binance.WorkingTypeMarkPrice,
		}},
	}

	for _, spec := range specs {
		resp, err := m.exchange.PlaceOrder(spec.params)
		if err != nil {
			m.logger.Error().
				Str("key", key).
				Str("purpose", string(spec.purpose)).
				Err(err).
				Msg("Order placement failed, cancelling siblings")
			m.cancelPendingLocked(pos)
			return fmt.Errorf("%w: %s %s: %v", ErrOrderRejected, key, spec.purpose, err)
		}

		price := spec.params.Price
		if price == 0 {
			price = spec.params.StopPrice
		}
		pos.Orders = append(pos.Orders, &ManagedOrder{
			OrderID:  resp.OrderId,
			Symbol:   sig.Symbol,
			Side:     spec.params.Side,
			Type:     spec.params.Type,
			Purpose:  spec.purpose,
			Quantity: spec.params.Quantity,
			Price:    price,
			State:    OrderStatePending,
		})
	}

	m.positions[key] = pos
	m.persist(pos)

	m.logger.Info().
		Str("key", key).
		Str("position_id", pos.ID).
		Int("orders", len(pos.Orders)).
		Msg("Position set placed")
	return nil
}

// monitorLoop polls order status and advances position lifecycle.
func (m *Manager) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Poll checks every open position's orders once.
func (m *Manager) Poll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pos := range m.positions {
		if err := m.updateLocked(pos); err != nil {
			m.logger.Error().
				Str("key", pos.Key()).
				Err(err).
				Msg("Failed to update position")
		}
	}
}

// updateLocked advances one position's lifecycle from fresh order status.
// Callers hold m.mu.
func (m *Manager) updateLocked(pos *Position) error {
	// Entries first, so a TP fill in the same poll sees the right quantity.
	for _, purpose := range []OrderPurpose{PurposeEntry1, PurposeEntry2} {
		order := pos.OrderByPurpose(purpose)
		if order == nil || order.State != OrderStatePending {
			continue
		}
		status, err := m.exchange.GetOrder(pos.Symbol, order.OrderID)
		if err != nil {
			return fmt.Errorf("failed to query %s order %d: %w", purpose, order.OrderID, err)
		}
		if status.Status != string(binance.OrderStatusFilled) {
			continue
		}

		m.markFilled(order, status)
		if purpose == PurposeEntry1 {
			pos.Entry1Qty = order.Quantity
		} else {
			pos.Entry2Qty = order.Quantity
		}
		pos.TotalQty = pos.Entry1Qty + pos.Entry2Qty
		pos.UpdateAvgEntry()
		pos.Status = entryStatus(pos)
		pos.UpdatedAt = time.Now().UTC()
		m.persist(pos)

		m.logger.Info().
			Str("key", pos.Key()).
			Str("purpose", string(purpose)).
			Float64("price", order.FilledPrice).
			Str("status", string(pos.Status)).
			Msg("Entry filled")
	}

	for _, spec := range []struct {
		purpose OrderPurpose
		reason  string
	}{
		{PurposeTakeProfit, CloseReasonTP},
		{PurposeStopLoss, CloseReasonSL},
	} {
		order := pos.OrderByPurpose(spec.purpose)
		if order == nil || order.State != OrderStatePending {
			continue
		}
		status, err := m.exchange.GetOrder(pos.Symbol, order.OrderID)
		if err != nil {
			return fmt.Errorf("failed to query %s order %d: %w", spec.purpose, order.OrderID, err)
		}
		if status.Status != string(binance.OrderStatusFilled) {
			continue
		}

		m.markFilled(order, status)
		exit := order.FilledPrice
		if exit == 0 {
			exit = order.Price
		}
		m.closeLocked(pos, spec.reason, exit, false)
		return nil
	}

	return nil
}

// closeLocked terminates a position: cancels its pending orders, optionally
// closes filled size at market, records P&L, and frees the slot. Callers
// hold m.mu. exitPrice 0 with marketClose resolves the exit from the market
// fill or the current mark.
func (m *Manager) closeLocked(pos *Position, reason string, exitPrice float64, marketClose bool) {
	m.cancelPendingLocked(pos)

	if marketClose && pos.HasOpenPosition() {
		closeSide := "SELL"
		if pos.Direction == events.DirectionShort {
			closeSide = "BUY"
		}
		resp, err := m.exchange.PlaceOrder(binance.OrderParams{
			Symbol:     pos.Symbol,
			Side:       closeSide,
			Type:       binance.OrderTypeMarket,
			Quantity:   pos.TotalQty,
			ReduceOnly: true,
		})
		switch {
		case err != nil:
			m.logger.Error().
				Str("key", pos.Key()).
				Err(err).
				Msg("Market close failed, position may remain on exchange")
		case resp.AvgPrice > 0:
			exitPrice = resp.AvgPrice
		}
		if exitPrice == 0 {
			if mark, err := m.exchange.GetMarkPrice(pos.Symbol); err == nil {
				exitPrice = mark.MarkPrice
			}
		}
	}

	if pos.HasOpenPosition() && exitPrice > 0 {
		pos.RealizedPnL = pos.PnL(exitPrice)
	}

	now := time.Now().UTC()
	pos.Status = StatusClosed
	pos.CloseReason = reason
	pos.ClosedAt = &now
	pos.UpdatedAt = now

	m.logger.Info().
		Str("key", pos.Key()).
		Str("reason", reason).
		Float64("avg_entry", pos.AvgEntryPrice).
		Float64("exit", exitPrice).
		Float64("qty", pos.TotalQty).
		Float64("pnl", pos.RealizedPnL).
		Msg("Position closed")

	delete(m.positions, pos.Key())
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.store.Delete(ctx, pos.Key()); err != nil {
			m.logger.Error().Str("key", pos.Key()).Err(err).Msg("Failed to drop position snapshot")
		}
		cancel()
	}
}

// cancelPendingLocked cancels every still-pending order in the set.
func (m *Manager) cancelPendingLocked(pos *Position) {
	for _, order := range pos.Orders {
		if order.State != OrderStatePending || order.OrderID == 0 {
			continue
		}
		if err := m.exchange.CancelOrder(order.Symbol, order.OrderID); err != nil {
			m.logger.Error().
				Str("key", pos.Key()).
				Str("purpose", string(order.Purpose)).
				Int64("order_id", order.OrderID).
				Err(err).
				Msg("Failed to cancel order")
		}
		order.State = OrderStateCancelled
	}
}

func (m *Manager) markFilled(order *ManagedOrder, status *binance.Order) {
	now := time.Now().UTC()
	order.State = OrderStateFilled
	order.FilledAt = &now
	order.FilledPrice = status.AvgPrice
	if order.FilledPrice == 0 {
		order.FilledPrice = order.Price
	}
}

func (m *Manager) persist(pos *Position) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, pos.Key(), pos); err != nil {
		m.logger.Error().Str("key", pos.Key()).Err(err).Msg("Failed to persist position snapshot")
	}
}

// Positions returns a snapshot of the live position sets.
func (m *Manager) Positions() []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	return out
}

func entryStatus(pos *Position) TradeStatus {
	switch {
	case pos.Entry1Qty > 0 && pos.Entry2Qty > 0:
		return StatusBothFilled
	case pos.Entry1Qty > 0:
		return StatusEntry1Filled
	case pos.Entry2Qty > 0:
		return StatusEntry2Filled
	default:
		return StatusPending
	}
}

// validateSignal rejects sets whose levels cannot make sense as a trade.
func validateSignal(sig events.Signal) error {
	if sig.Symbol == "" || sig.Timeframe == "" {
		return fmt.Errorf("%w: missing symbol or timeframe", ErrInvalidSignal)
	}
	if sig.Entry1 <= 0 || sig.Entry2 <= 0 || sig.TakeProfit <= 0 || sig.StopLoss <= 0 {
		return fmt.Errorf("%w: non-positive price level", ErrInvalidSignal)
	}

	if sig.Direction == events.DirectionLong {
		if sig.TakeProfit <= sig.Entry1 {
			return fmt.Errorf("%w: long TP %.8f <= entry %.8f", ErrInvalidSignal, sig.TakeProfit, sig.Entry1)
		}
		if sig.StopLoss >= sig.Entry2 {
			return fmt.Errorf("%w: long SL %.8f >= entry %.8f", ErrInvalidSignal, sig.StopLoss, sig.Entry2)
		}
		return nil
	}

	if sig.TakeProfit >= sig.Entry1 {
		return fmt.Errorf("%w: short TP %.8f >= entry %.8f", ErrInvalidSignal, sig.TakeProfit, sig.Entry1)
	}
	if sig.StopLoss <= sig.Entry2 {
		return fmt.Errorf("%w: short SL %.8f <= entry %.8f", ErrInvalidSignal, sig.StopLoss, sig.Entry2)
	}
	return nil
}

// markPastTP reports whether the market has already overtaken the target.
func markPastTP(sig events.Signal, mark float64) bool {
	if sig.Direction == events.DirectionLong {
		return mark >= sig.TakeProfit
	}
	return mark <= sig.TakeProfit
}
