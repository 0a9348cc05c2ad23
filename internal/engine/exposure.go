package engine

import (
	"fmt"
	"math"
	"sort"

	"rebalance-trader/internal/market"
)

// instrumentValue 为单个合约按最新价计算的名义市值。
type instrumentValue struct {
	value     float64
	direction market.Direction
}

// Exposure 返回组合敞口快照。
func (e *Engine) Exposure() ExposureData {
	return ExposureData{
		LongValue:     e.longValue,
		ShortValue:    e.shortValue,
		NetValue:      e.netValue,
		Deviation:     e.deviation,
		DeviationText: fmt.Sprintf("%.2f%%", e.deviation),
		LongPause:     e.longPause,
		ShortPause:    e.shortPause,
	}
}

// updateImmediateValue 按算法的名义方向汇总多空市值并计算偏离度。
func (e *Engine) updateImmediateValue() {
	var longValue, shortValue float64
	for _, v := range e.values {
		if v.direction == market.DirectionLong {
			longValue += v.value
		} else {
			shortValue += v.value
		}
	}

	e.longValue = longValue
	e.shortValue = shortValue
	e.netValue = longValue - shortValue

	total := longValue + shortValue
	if total != 0 {
		e.deviation = 100 * e.netValue / total
	} else {
		e.deviation = 0
	}
}

// checkExposure 执行组合级熔断：净敞口越限时暂停该方向的全部算法，
// 回到限额内后恢复。熔断默认关闭。
func (e *Engine) checkExposure() {
	if e.cfg.EnableBreaker && e.cfg.ExposureLimit > 0 && e.algoStarted {
		switch {
		case e.netValue > e.cfg.ExposureLimit:
			// 多头太快
			if !e.longPause {
				e.PauseAll(market.DirectionLong)
				e.longPause = true
				e.WriteLog(fmt.Sprintf("净敞口%.0f超过限额, 暂停多头算法", e.netValue))
			}
		case e.netValue < -e.cfg.ExposureLimit:
			// 空头太快
			if !e.shortPause {
				e.PauseAll(market.DirectionShort)
				e.shortPause = true
				e.WriteLog(fmt.Sprintf("净敞口%.0f超过限额, 暂停空头算法", e.netValue))
			}
		default:
			if e.longPause || e.shortPause {
				e.longPause = false
				e.shortPause = false
				e.ResumeAll()
				e.WriteLog("净敞口回到限额内, 恢复算法执行")
			}
		}
	}

	e.putExposureEvent()
}

func (e *Engine) putExposureEvent() {
	e.sink.OnExposure(e.Exposure())
}

func sortAlgoSnapshots(snapshots []AlgoSnapshot) {
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Instrument < snapshots[j].Instrument
	})
}

func round0(v float64) float64 {
	return math.Round(v)
}
