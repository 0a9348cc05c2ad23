package engine

import (
	"time"

	"rebalance-trader/internal/algo"
	"rebalance-trader/internal/market"
)

// LogEvent 为一条带时间戳的引擎日志。
type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// AlgoSnapshot 为算法状态快照，推送给监控方。
type AlgoSnapshot struct {
	Instrument        string           `json:"instrument"`
	Direction         market.Direction `json:"direction"`
	TargetVolume      float64          `json:"target_volume"`
	CadenceTicks      int              `json:"cadence_ticks"`
	ParticipationRate float64          `json:"participation_rate"`
	CadenceCounter    int              `json:"cadence_counter"`
	CurrentPosition   float64          `json:"current_pos"`
	OffsetLabel       string           `json:"offset_label"`
	ActiveOrders      int              `json:"active_orders"`
	PendingReexecute  bool             `json:"pending_reexecute"`
	Status            algo.Status      `json:"status"`
}

// ExposureData 为组合敞口快照。
type ExposureData struct {
	LongValue     float64 `json:"long_value"`
	ShortValue    float64 `json:"short_value"`
	NetValue      float64 `json:"net_value"`
	Deviation     float64 `json:"deviation"`
	DeviationText string  `json:"deviation_text"`
	LongPause     bool    `json:"long_pause"`
	ShortPause    bool    `json:"short_pause"`
}

// HoldingData 为组合持仓快照。
type HoldingData struct {
	PositionID string           `json:"position_id"`
	Instrument string           `json:"instrument"`
	Name       string           `json:"name"`
	Direction  market.Direction `json:"direction"`
	Volume     float64          `json:"volume"`
	Price      float64          `json:"price"`
	Pnl        float64          `json:"pnl"`
	Value      float64          `json:"value"`
}

// EventSink 消费引擎对外推送的监控事件，由宿主应用接到总线或UI。
type EventSink interface {
	OnLog(event LogEvent)
	OnAlgo(snapshot AlgoSnapshot)
	OnExposure(data ExposureData)
	OnHolding(data HoldingData)
}

// NopSink 丢弃所有事件。
type NopSink struct{}

func (NopSink) OnLog(LogEvent)          {}
func (NopSink) OnAlgo(AlgoSnapshot)     {}
func (NopSink) OnExposure(ExposureData) {}
func (NopSink) OnHolding(HoldingData)   {}

// TradeRecorder 把成交追加到外部流水账。
type TradeRecorder interface {
	Record(trade market.TradeData, contract market.ContractData) error
}
