package algo

import (
	"fmt"
	"math"

	"rebalance-trader/internal/market"
)

// Executor 抽象算法对引擎的回调能力，算法不直接持有引擎内部结构。
type Executor interface {
	GetTick(instrument market.Instrument) (market.TickData, bool)
	GetContract(instrument market.Instrument) (market.ContractData, bool)
	SendOrder(instrument market.Instrument, direction market.Direction, price, volume float64) []string
	CancelOrder(orderID string)
	SaveBackup()
	WriteLog(msg string)
}

// Algorithm 为切片算法的统一调度接口，两个具体变体在构造时选择。
type Algorithm interface {
	OnTrade(trade market.TradeData)
	OnOrder(order market.OrderData)
	OnTimer()
	State() *State
}

// State 保存单个合约的切片算法全部状态。
type State struct {
	Instrument        market.Instrument
	Direction         market.Direction
	TargetVolume      float64
	CadenceTicks      int
	ParticipationRate float64

	CadenceCounter   int
	CurrentPosition  float64
	OffsetLabel      string
	ActiveOrderIDs   map[string]struct{}
	PendingReexecute bool
	Status           Status
}

// SliceAlgo 按参与率对单个合约执行切片下单，目标仓位可随时调整。
type SliceAlgo struct {
	exec  Executor
	state State
}

// New 创建切片算法实例。targetVolume 为名义方向上的正数目标量，
// 方向为空头时内部取负，后续的穿越判断与方向无关。
func New(
	exec Executor,
	instrument market.Instrument,
	direction market.Direction,
	targetVolume float64,
	cadenceTicks int,
	participationRate float64,
) *SliceAlgo {
	a := &SliceAlgo{
		exec: exec,
		state: State{
			Instrument:        instrument,
			Direction:         direction,
			TargetVolume:      targetVolume,
			CadenceTicks:      cadenceTicks,
			ParticipationRate: participationRate,
			ActiveOrderIDs:    make(map[string]struct{}),
			Status:            StatusWaiting,
		},
	}

	if direction == market.DirectionShort {
		a.state.TargetVolume = -a.state.TargetVolume
	}

	// 节拍小于2属于非法配置，直接置为停止，永不执行
	if cadenceTicks < 2 {
		exec.WriteLog(fmt.Sprintf("[%s] 执行节拍为%d, 不得小于2 -- 停止交易", instrument, cadenceTicks))
		a.state.Status = StatusStopped
		return a
	}

	a.state.CadenceCounter = cadenceTicks - 2

	return a
}

// State 返回内部状态，引擎据此做状态迁移与持久化。
func (a *SliceAlgo) State() *State {
	return &a.state
}

// OnTrade 根据成交方向累加当前仓位，不触发其他状态变化。
func (a *SliceAlgo) OnTrade(trade market.TradeData) {
	switch trade.Direction {
	case market.DirectionLong:
		a.state.CurrentPosition += trade.Volume
	case market.DirectionShort:
		a.state.CurrentPosition -= trade.Volume
	}
}

// OnOrder 处理委托回报：移除已结束的委托，并在活动委托清空后
// 执行被推迟的下单决策。
func (a *SliceAlgo) OnOrder(order market.OrderData) {
	if !order.IsActive() {
		delete(a.state.ActiveOrderIDs, order.OrderID)
	}

	if a.state.PendingReexecute && len(a.state.ActiveOrderIDs) == 0 {
		a.state.PendingReexecute = false
		a.Run()
	}
}

// OnTimer 推进节拍计数。达到节拍后：若仍有活动委托则先全部撤单并
// 推迟执行，否则直接进入下单决策。
func (a *SliceAlgo) OnTimer() {
	a.state.CadenceCounter++

	// 每个节拍都写一次备份快照
	a.exec.SaveBackup()

	if a.state.CadenceCounter < a.state.CadenceTicks {
		return
	}
	a.state.CadenceCounter = 0

	if len(a.state.ActiveOrderIDs) > 0 {
		for orderID := range a.state.ActiveOrderIDs {
			a.exec.CancelOrder(orderID)
		}
		a.state.PendingReexecute = true
		return
	}

	a.Run()
}

// Run 执行一次下单决策。
func (a *SliceAlgo) Run() {
	// 过滤无行情或无合约信息的情况
	tick, ok := a.exec.GetTick(a.state.Instrument)
	if !ok {
		return
	}
	contract, ok := a.exec.GetContract(a.state.Instrument)
	if !ok {
		return
	}

	// 计算剩余委托量，已全部完成则过滤
	volumeLeft := math.Abs(a.state.TargetVolume) - math.Abs(a.state.CurrentPosition)
	if volumeLeft == 0 {
		return
	}

	var direction market.Direction

	if volumeLeft > 0 {
		// 开仓阶段
		direction = a.state.Direction
		a.state.OffsetLabel = "open-" + string(direction)
	} else {
		// 平仓阶段，反方向下单
		direction = a.state.Direction.Opposite()

		// 防止仓位记录与实际持仓不符导致反向开仓
		if a.state.Direction == market.DirectionLong && a.state.CurrentPosition < 0 {
			a.exec.WriteLog(fmt.Sprintf("[%s] 空平阶段: 记录的当前仓位与实际持仓不符, 需检查", a.state.Instrument))
			return
		}
		if a.state.Direction == market.DirectionShort && a.state.CurrentPosition > 0 {
			a.exec.WriteLog(fmt.Sprintf("[%s] 多平阶段: 记录的当前仓位与实际持仓不符, 需检查", a.state.Instrument))
			return
		}

		a.state.OffsetLabel = "close-" + string(direction)
	}
	volumeLeft = math.Abs(volumeLeft)

	// 委托价格对1档盘口超加1个最小变动价位，偏向立即成交；
	// 委托量按对手盘1档挂量的参与率计算
	var orderPrice, opposingVolume float64
	if direction == market.DirectionLong {
		orderPrice = tick.AskPrice1 + contract.PriceTick
		opposingVolume = tick.AskVolume1
	} else {
		orderPrice = tick.BidPrice1 - contract.PriceTick
		opposingVolume = tick.BidVolume1
	}

	orderVolume := roundToLot(opposingVolume*a.state.ParticipationRate, contract.MinVolume)
	orderVolume = math.Min(orderVolume, volumeLeft)

	if orderVolume == 0 {
		orderVolume = contract.MinVolume
		if orderVolume == 0 {
			a.exec.WriteLog(fmt.Sprintf("[%s] 计算委托量与合约最小交易单位都为0, 无法下单", a.state.Instrument))
			return
		}
	}

	orderIDs := a.exec.SendOrder(a.state.Instrument, direction, orderPrice, orderVolume)
	for _, orderID := range orderIDs {
		a.state.ActiveOrderIDs[orderID] = struct{}{}
	}
}

// roundToLot 将委托量向下取整到最小交易单位的整数倍。
func roundToLot(volume, minVolume float64) float64 {
	if minVolume <= 0 {
		return math.Floor(volume)
	}
	return math.Floor(volume/minVolume) * minVolume
}
