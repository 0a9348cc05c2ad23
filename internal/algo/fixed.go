package algo

import (
	"fmt"

	"rebalance-trader/internal/market"
)

// FixedTargetAlgo 为固定目标量的旧版变体：目标量不可在线调整，
// 仓位到达目标后进入结束状态。
type FixedTargetAlgo struct {
	*SliceAlgo
}

// NewFixed 创建固定目标量算法实例。
func NewFixed(
	exec Executor,
	instrument market.Instrument,
	direction market.Direction,
	targetVolume float64,
	cadenceTicks int,
	participationRate float64,
) *FixedTargetAlgo {
	return &FixedTargetAlgo{
		SliceAlgo: New(exec, instrument, direction, targetVolume, cadenceTicks, participationRate),
	}
}

// OnTrade 在累加仓位后检查是否到达目标，到达即结束。
func (a *FixedTargetAlgo) OnTrade(trade market.TradeData) {
	a.SliceAlgo.OnTrade(trade)

	st := a.State()
	if st.Status == StatusRunning && st.CurrentPosition == st.TargetVolume {
		st.Status = StatusFinished
		a.exec.WriteLog(fmt.Sprintf("[%s] 交易结束 [%v/%v]", st.Instrument, st.CurrentPosition, st.TargetVolume))
	}
}

var (
	_ Algorithm = (*SliceAlgo)(nil)
	_ Algorithm = (*FixedTargetAlgo)(nil)
)
