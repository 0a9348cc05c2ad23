package market

import "time"

// Direction 表示交易方向。
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Opposite 返回相反方向。
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Valid 判断方向取值是否合法。
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Offset 表示开平动作。
type Offset string

const (
	OffsetOpen  Offset = "open"
	OffsetClose Offset = "close"
)

// OrderStatus 表示委托状态。
type OrderStatus string

const (
	StatusSubmitting OrderStatus = "submitting"
	StatusNotTraded  OrderStatus = "not_traded"
	StatusPartTraded OrderStatus = "part_traded"
	StatusAllTraded  OrderStatus = "all_traded"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRejected   OrderStatus = "rejected"
)

// IsActive 判断委托是否仍有可能继续成交。
func (s OrderStatus) IsActive() bool {
	switch s {
	case StatusSubmitting, StatusNotTraded, StatusPartTraded:
		return true
	default:
		return false
	}
}

// TickData 为合约的一档盘口快照。
type TickData struct {
	Instrument Instrument
	BidPrice1  float64
	BidVolume1 float64
	AskPrice1  float64
	AskVolume1 float64
	LastPrice  float64
	Timestamp  time.Time
}

// ContractData 为合约基础信息。
type ContractData struct {
	Instrument Instrument
	Name       string
	PriceTick  float64
	MinVolume  float64
	Multiplier float64
	Gateway    string
}

// OrderRequest 为委托下单请求。
type OrderRequest struct {
	Instrument Instrument
	Direction  Direction
	Offset     Offset
	Price      float64
	Volume     float64
	Reference  string
}

// OrderData 为委托状态回报。
type OrderData struct {
	OrderID    string
	Instrument Instrument
	Direction  Direction
	Offset     Offset
	Price      float64
	Volume     float64
	Traded     float64
	Status     OrderStatus
	Timestamp  time.Time
}

// IsActive 判断委托回报是否处于活动状态。
func (o OrderData) IsActive() bool {
	return o.Status.IsActive()
}

// TradeData 为成交回报。
type TradeData struct {
	TradeID    string
	OrderID    string
	Instrument Instrument
	Direction  Direction
	Offset     Offset
	Price      float64
	Volume     float64
	Timestamp  time.Time
	Gateway    string
}

// PositionData 为账户持仓回报。
type PositionData struct {
	Instrument Instrument
	Direction  Direction
	Volume     float64
	Frozen     float64
	Price      float64
	Pnl        float64
}

// PositionID 返回持仓的唯一标识。
func (p PositionData) PositionID() string {
	return p.Instrument.String() + "." + string(p.Direction)
}
