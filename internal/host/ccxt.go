package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"rebalance-trader/internal/config"
	"rebalance-trader/internal/market"
)

// 成交轮询水位回退的重叠区间，毫秒
const overlapMillis = 5_000

// binding 把内部合约标识绑定到 ccxt 交易对与静态合约参数。
type binding struct {
	symbol   string
	contract market.ContractData
}

// sentOrder 跟踪已发出委托，用于轮询时合成回报事件。
type sentOrder struct {
	instrument market.Instrument
	direction  market.Direction
	offset     market.Offset
	price      float64
	volume     float64
	filled     float64
	open       bool
}

// CCXT 为经 ccxt 接入实盘交易所的宿主实现。行情与回报通过
// 后台轮询获取，事件经 Feed 串行送入引擎事件循环。
type CCXT struct {
	cfg      config.HostConfig
	logger   *zap.Logger
	exchange *ccxt.Binance

	bindings map[market.Instrument]binding

	mu         sync.Mutex
	ticks      map[market.Instrument]market.TickData
	subscribed map[market.Instrument]bool
	sent       map[string]*sentOrder

	marketsMu     sync.Mutex
	marketsLoaded bool

	tradesSince int64
	events      chan Event
}

// NewCCXT 创建 ccxt 宿主。
func NewCCXT(cfg config.HostConfig, logger *zap.Logger) (*CCXT, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinance(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	h := &CCXT{
		cfg:         cfg,
		logger:      logger,
		exchange:    ex,
		bindings:    make(map[market.Instrument]binding),
		ticks:       make(map[market.Instrument]market.TickData),
		subscribed:  make(map[market.Instrument]bool),
		sent:        make(map[string]*sentOrder),
		tradesSince: time.Now().UnixMilli(),
		events:      make(chan Event, 1024),
	}

	for _, ic := range cfg.Instruments {
		instrument, err := market.ParseInstrument(ic.Instrument)
		if err != nil {
			return nil, fmt.Errorf("host: 合约配置非法: %w", err)
		}
		symbol := ic.CcxtSymbol
		if symbol == "" {
			symbol = instrument.Symbol
		}
		h.bindings[instrument] = binding{
			symbol: symbol,
			contract: market.ContractData{
				Instrument: instrument,
				Name:       ic.Name,
				PriceTick:  ic.PriceTick,
				MinVolume:  ic.MinVolume,
				Multiplier: ic.Multiplier,
				Gateway:    cfg.Exchange,
			},
		}
	}

	return h, nil
}

// Start 启动行情与回报轮询，直到 ctx 取消。
func (h *CCXT) Start(ctx context.Context) {
	interval := h.cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.pollTicks()
				h.pollTrades()
				h.pollOrders()
			}
		}
	}()
}

// Events 返回回报事件流。
func (h *CCXT) Events() <-chan Event {
	return h.events
}

// GetTick 返回最近一次轮询得到的行情快照。
func (h *CCXT) GetTick(instrument market.Instrument) (market.TickData, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tick, ok := h.ticks[instrument]
	return tick, ok
}

// GetContract 返回配置的合约静态信息。
func (h *CCXT) GetContract(instrument market.Instrument) (market.ContractData, bool) {
	b, ok := h.bindings[instrument]
	if !ok {
		return market.ContractData{}, false
	}
	return b.contract, true
}

// Subscribe 把合约加入行情轮询列表。
func (h *CCXT) Subscribe(instrument market.Instrument) error {
	if _, ok := h.bindings[instrument]; !ok {
		return fmt.Errorf("host: 未配置的合约: %s", instrument)
	}

	h.mu.Lock()
	h.subscribed[instrument] = true
	h.mu.Unlock()
	return nil
}

// SendOrder 以限价单发出委托，返回交易所委托号。
func (h *CCXT) SendOrder(req market.OrderRequest) (string, error) {
	b, ok := h.bindings[req.Instrument]
	if !ok {
		return "", fmt.Errorf("host: 未配置的合约: %s", req.Instrument)
	}

	if err := h.ensureMarketsLoaded(); err != nil {
		return "", err
	}

	side := "buy"
	if req.Direction == market.DirectionShort {
		side = "sell"
	}

	order, err := h.exchange.CreateLimitOrder(b.symbol, side, req.Volume, req.Price)
	if err != nil {
		return "", fmt.Errorf("host: 委托发送失败: %w", err)
	}

	orderID := derefString(order.Id)
	if orderID == "" {
		return "", fmt.Errorf("host: 交易所未返回委托号")
	}

	h.mu.Lock()
	h.sent[orderID] = &sentOrder{
		instrument: req.Instrument,
		direction:  req.Direction,
		offset:     req.Offset,
		price:      req.Price,
		volume:     req.Volume,
		open:       true,
	}
	h.mu.Unlock()

	return orderID, nil
}

// CancelOrder 请求撤销委托，结果经回报轮询异步确认。
func (h *CCXT) CancelOrder(orderID string) error {
	h.mu.Lock()
	rec, ok := h.sent[orderID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("host: 未知委托: %s", orderID)
	}

	// 撤单是幂等操作，失败可安全重试；报单不重试以免重复成交
	b := h.bindings[rec.instrument]
	err := h.callWithRetry("cancel_order", func() error {
		_, cancelErr := h.exchange.CancelOrder(orderID, ccxt.WithCancelOrderSymbol(b.symbol))
		return cancelErr
	})
	if err != nil {
		return fmt.Errorf("host: 委托撤单失败: %w", err)
	}
	return nil
}

func (h *CCXT) ensureMarketsLoaded() error {
	h.marketsMu.Lock()
	defer h.marketsMu.Unlock()

	if h.marketsLoaded {
		return nil
	}
	err := h.callWithRetry("load_markets", func() error {
		_, loadErr := h.exchange.LoadMarkets()
		return loadErr
	})
	if err != nil {
		return fmt.Errorf("host: 加载市场元数据失败: %w", err)
	}
	h.marketsLoaded = true
	h.logger.Info("已完成市场元数据加载", zap.String("exchange", h.cfg.Exchange))
	return nil
}

func (h *CCXT) callWithRetry(operation string, fn func() error) error {
	maxAttempts := h.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	delay := h.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := h.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	attempt := 0
	for {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				h.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		if attempt >= maxAttempts {
			h.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return err
		}

		h.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", delay),
			zap.Error(err),
		)
		time.Sleep(delay)

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (h *CCXT) pollTicks() {
	h.mu.Lock()
	instruments := make([]market.Instrument, 0, len(h.subscribed))
	for instrument := range h.subscribed {
		instruments = append(instruments, instrument)
	}
	h.mu.Unlock()

	for _, instrument := range instruments {
		b := h.bindings[instrument]

		book, err := h.exchange.FetchOrderBook(b.symbol, ccxt.WithFetchOrderBookLimit(5))
		if err != nil {
			h.logger.Warn("拉取盘口失败", zap.String("symbol", b.symbol), zap.Error(err))
			continue
		}

		tick := market.TickData{
			Instrument: instrument,
			Timestamp:  time.Now(),
		}
		if len(book.Bids) > 0 && len(book.Bids[0]) >= 2 {
			tick.BidPrice1 = book.Bids[0][0]
			tick.BidVolume1 = book.Bids[0][1]
		}
		if len(book.Asks) > 0 && len(book.Asks[0]) >= 2 {
			tick.AskPrice1 = book.Asks[0][0]
			tick.AskVolume1 = book.Asks[0][1]
		}
		// 盘口快照没有最新成交价，用中间价近似
		if tick.BidPrice1 > 0 && tick.AskPrice1 > 0 {
			tick.LastPrice = (tick.BidPrice1 + tick.AskPrice1) / 2
		}

		h.mu.Lock()
		h.ticks[instrument] = tick
		h.mu.Unlock()
	}
}

func (h *CCXT) pollTrades() {
	h.mu.Lock()
	symbols := make(map[string]market.Instrument)
	for instrument := range h.subscribed {
		b := h.bindings[instrument]
		symbols[b.symbol] = instrument
	}
	since := h.tradesSince
	h.mu.Unlock()

	// 水位按轮询时刻推进并留重叠区间，重复成交由引擎按成交号过滤
	pollStart := time.Now().UnixMilli()

	for symbol, instrument := range symbols {
		trades, err := h.exchange.FetchMyTrades(
			ccxt.WithFetchMyTradesSymbol(symbol),
			ccxt.WithFetchMyTradesSince(since),
		)
		if err != nil {
			h.logger.Warn("拉取成交失败", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		for _, raw := range trades {
			tradeID := derefString(raw.Id)
			if tradeID == "" {
				continue
			}

			orderID := derefString(raw.Order)
			direction := market.DirectionLong
			if strings.EqualFold(derefString(raw.Side), "sell") {
				direction = market.DirectionShort
			}

			offset := market.OffsetOpen
			h.mu.Lock()
			if rec, ok := h.sent[orderID]; ok {
				offset = rec.offset
				rec.filled += derefFloat(raw.Amount)
			}
			h.mu.Unlock()

			trade := market.TradeData{
				TradeID:    tradeID,
				OrderID:    orderID,
				Instrument: instrument,
				Direction:  direction,
				Offset:     offset,
				Price:      derefFloat(raw.Price),
				Volume:     derefFloat(raw.Amount),
				Timestamp:  time.Now(),
				Gateway:    h.cfg.Exchange,
			}
			h.push(Event{Trade: &trade})
		}
	}

	h.mu.Lock()
	h.tradesSince = pollStart - overlapMillis
	if h.tradesSince < since {
		h.tradesSince = since
	}
	h.mu.Unlock()
}

func (h *CCXT) pollOrders() {
	h.mu.Lock()
	pending := make(map[string]*sentOrder)
	for orderID, rec := range h.sent {
		if rec.open {
			pending[orderID] = rec
		}
	}
	h.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	openIDs := make(map[string]ccxt.Order)
	seen := make(map[string]bool)
	for _, rec := range pending {
		b := h.bindings[rec.instrument]
		if seen[b.symbol] {
			continue
		}
		seen[b.symbol] = true

		orders, err := h.exchange.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(b.symbol))
		if err != nil {
			h.logger.Warn("拉取挂单失败", zap.String("symbol", b.symbol), zap.Error(err))
			return
		}
		for _, order := range orders {
			openIDs[derefString(order.Id)] = order
		}
	}

	for orderID, rec := range pending {
		if raw, ok := openIDs[orderID]; ok {
			status := market.StatusNotTraded
			if derefFloat(raw.Filled) > 0 {
				status = market.StatusPartTraded
			}
			h.pushOrder(orderID, rec, derefFloat(raw.Filled), status)
			continue
		}

		// 不在挂单列表中即已结束：按累计成交量区分全成与撤单
		status := market.StatusCancelled
		if rec.filled >= rec.volume {
			status = market.StatusAllTraded
		}

		h.mu.Lock()
		rec.open = false
		h.mu.Unlock()

		h.pushOrder(orderID, rec, rec.filled, status)
	}
}

func (h *CCXT) pushOrder(orderID string, rec *sentOrder, filled float64, status market.OrderStatus) {
	order := market.OrderData{
		OrderID:    orderID,
		Instrument: rec.instrument,
		Direction:  rec.direction,
		Offset:     rec.offset,
		Price:      rec.price,
		Volume:     rec.volume,
		Traded:     filled,
		Status:     status,
		Timestamp:  time.Now(),
	}
	h.push(Event{Order: &order})
}

func (h *CCXT) push(event Event) {
	select {
	case h.events <- event:
	default:
		h.logger.Warn("回报事件队列已满, 丢弃事件")
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

var (
	_ market.Host = (*CCXT)(nil)
	_ Feed        = (*CCXT)(nil)
)
