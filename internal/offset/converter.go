package offset

import (
	"math"

	"rebalance-trader/internal/market"
)

// Holding 为单个合约的多空持仓与平仓冻结量。
type Holding struct {
	Long        float64
	Short       float64
	LongFrozen  float64
	ShortFrozen float64
}

// Net 返回净持仓（多减空）。
func (h Holding) Net() float64 {
	return h.Long - h.Short
}

type frozenRecord struct {
	direction market.Direction
	remaining float64
}

// Converter 以净仓模式维护持仓，把一笔原始委托请求拆分为
// 先平后开的一到两笔请求，并跟踪平仓冻结量。
type Converter struct {
	holdings map[market.Instrument]*Holding
	frozen   map[string]*frozenRecord
}

// New 创建开平转换器。
func New() *Converter {
	return &Converter{
		holdings: make(map[market.Instrument]*Holding),
		frozen:   make(map[string]*frozenRecord),
	}
}

func (c *Converter) holding(instrument market.Instrument) *Holding {
	h, ok := c.holdings[instrument]
	if !ok {
		h = &Holding{}
		c.holdings[instrument] = h
	}
	return h
}

// Holding 返回合约当前持仓快照。
func (c *Converter) Holding(instrument market.Instrument) Holding {
	if h, ok := c.holdings[instrument]; ok {
		return *h
	}
	return Holding{}
}

// UpdatePosition 用账户持仓回报覆盖本地持仓。
func (c *Converter) UpdatePosition(pos market.PositionData) {
	h := c.holding(pos.Instrument)
	switch pos.Direction {
	case market.DirectionLong:
		h.Long = pos.Volume
		h.LongFrozen = pos.Frozen
	case market.DirectionShort:
		h.Short = pos.Volume
		h.ShortFrozen = pos.Frozen
	}
}

// UpdateTrade 按成交更新持仓，平仓成交同步释放冻结。
func (c *Converter) UpdateTrade(trade market.TradeData) {
	h := c.holding(trade.Instrument)

	switch trade.Direction {
	case market.DirectionLong:
		if trade.Offset == market.OffsetOpen {
			h.Long += trade.Volume
		} else {
			h.Short = math.Max(h.Short-trade.Volume, 0)
			h.ShortFrozen = math.Max(h.ShortFrozen-trade.Volume, 0)
		}
	case market.DirectionShort:
		if trade.Offset == market.OffsetOpen {
			h.Short += trade.Volume
		} else {
			h.Long = math.Max(h.Long-trade.Volume, 0)
			h.LongFrozen = math.Max(h.LongFrozen-trade.Volume, 0)
		}
	}

	if rec, ok := c.frozen[trade.OrderID]; ok {
		rec.remaining = math.Max(rec.remaining-trade.Volume, 0)
	}
}

// UpdateOrder 在平仓委托结束时释放剩余冻结量。
func (c *Converter) UpdateOrder(order market.OrderData) {
	rec, ok := c.frozen[order.OrderID]
	if !ok || order.IsActive() {
		return
	}

	h := c.holding(order.Instrument)
	switch rec.direction {
	case market.DirectionLong:
		// 买平解冻空头
		h.ShortFrozen = math.Max(h.ShortFrozen-rec.remaining, 0)
	case market.DirectionShort:
		h.LongFrozen = math.Max(h.LongFrozen-rec.remaining, 0)
	}
	delete(c.frozen, order.OrderID)
}

// UpdateOrderRequest 在委托发出后记录平仓冻结。
func (c *Converter) UpdateOrderRequest(req market.OrderRequest, orderID string) {
	if req.Offset != market.OffsetClose {
		return
	}

	h := c.holding(req.Instrument)
	switch req.Direction {
	case market.DirectionLong:
		h.ShortFrozen += req.Volume
	case market.DirectionShort:
		h.LongFrozen += req.Volume
	}

	c.frozen[orderID] = &frozenRecord{
		direction: req.Direction,
		remaining: req.Volume,
	}
}

// Convert 以净仓模式拆分委托请求：优先平掉反方向可用持仓，
// 不足部分再开仓。
func (c *Converter) Convert(req market.OrderRequest) []market.OrderRequest {
	h := c.holding(req.Instrument)

	var available float64
	if req.Direction == market.DirectionLong {
		available = h.Short - h.ShortFrozen
	} else {
		available = h.Long - h.LongFrozen
	}
	if available < 0 {
		available = 0
	}

	// 无可平持仓，整笔开仓
	if available == 0 {
		req.Offset = market.OffsetOpen
		return []market.OrderRequest{req}
	}

	// 可平持仓充足，整笔平仓
	if available >= req.Volume {
		req.Offset = market.OffsetClose
		return []market.OrderRequest{req}
	}

	closeReq := req
	closeReq.Offset = market.OffsetClose
	closeReq.Volume = available

	openReq := req
	openReq.Offset = market.OffsetOpen
	openReq.Volume = req.Volume - available

	return []market.OrderRequest{closeReq, openReq}
}
