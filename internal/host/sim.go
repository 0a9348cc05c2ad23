package host

import (
	"fmt"
	"time"

	"rebalance-trader/internal/market"
)

// Sim 为内存模拟宿主：委托立即全量成交，用于纸面交易与演练。
// 所有方法都假定在单个事件循环协程内调用。
type Sim struct {
	ticks      map[market.Instrument]market.TickData
	contracts  map[market.Instrument]market.ContractData
	subscribed map[market.Instrument]bool

	nextOrderID int
	events      chan Event
}

// NewSim 创建模拟宿主。
func NewSim(contracts []market.ContractData) *Sim {
	s := &Sim{
		ticks:      make(map[market.Instrument]market.TickData),
		contracts:  make(map[market.Instrument]market.ContractData),
		subscribed: make(map[market.Instrument]bool),
		events:     make(chan Event, 256),
	}
	for _, contract := range contracts {
		s.contracts[contract.Instrument] = contract
	}
	return s
}

// SetTick 更新合约行情。
func (s *Sim) SetTick(tick market.TickData) {
	s.ticks[tick.Instrument] = tick
}

// SetContract 注册合约信息。
func (s *Sim) SetContract(contract market.ContractData) {
	s.contracts[contract.Instrument] = contract
}

// GetTick 查询合约行情。
func (s *Sim) GetTick(instrument market.Instrument) (market.TickData, bool) {
	tick, ok := s.ticks[instrument]
	return tick, ok
}

// GetContract 查询合约信息。
func (s *Sim) GetContract(instrument market.Instrument) (market.ContractData, bool) {
	contract, ok := s.contracts[instrument]
	return contract, ok
}

// Subscribe 订阅行情。
func (s *Sim) Subscribe(instrument market.Instrument) error {
	s.subscribed[instrument] = true
	return nil
}

// SendOrder 受理委托并立即生成全量成交回报。
func (s *Sim) SendOrder(req market.OrderRequest) (string, error) {
	s.nextOrderID++
	orderID := fmt.Sprintf("sim.%d", s.nextOrderID)
	now := time.Now()

	order := market.OrderData{
		OrderID:    orderID,
		Instrument: req.Instrument,
		Direction:  req.Direction,
		Offset:     req.Offset,
		Price:      req.Price,
		Volume:     req.Volume,
		Status:     market.StatusNotTraded,
		Timestamp:  now,
	}
	s.push(Event{Order: &order})

	trade := market.TradeData{
		TradeID:    fmt.Sprintf("simtrade.%d", s.nextOrderID),
		OrderID:    orderID,
		Instrument: req.Instrument,
		Direction:  req.Direction,
		Offset:     req.Offset,
		Price:      req.Price,
		Volume:     req.Volume,
		Timestamp:  now,
		Gateway:    "SIM",
	}
	s.push(Event{Trade: &trade})

	filled := order
	filled.Traded = req.Volume
	filled.Status = market.StatusAllTraded
	s.push(Event{Order: &filled})

	return orderID, nil
}

// CancelOrder 模拟盘中委托已立即成交，撤单始终为空操作。
func (s *Sim) CancelOrder(orderID string) error {
	return nil
}

// Events 返回回报事件流。
func (s *Sim) Events() <-chan Event {
	return s.events
}

func (s *Sim) push(event Event) {
	select {
	case s.events <- event:
	default:
		// 队列满时丢弃，模拟盘不追求回报完整性
	}
}

var (
	_ market.Host = (*Sim)(nil)
	_ Feed        = (*Sim)(nil)
)
