package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"rebalance-trader/internal/algo"
	"rebalance-trader/internal/market"
	"rebalance-trader/internal/offset"
)

const orderReference = "rebalance-trader"

// Config 控制引擎行为。
type Config struct {
	DataPath      string
	BackupPath    string
	ExposureLimit float64
	EnableBreaker bool
	FixedTarget   bool
}

// Engine 管理全部切片算法实例：路由行情与回报事件、维护去重后的
// 委托与成交簿、统计组合敞口并负责状态持久化。所有方法都必须在
// 同一个事件循环协程内调用。
type Engine struct {
	cfg       Config
	logger    *zap.Logger
	host      market.Host
	sink      EventSink
	ledger    TradeRecorder
	converter *offset.Converter

	algos  map[market.Instrument]algo.Algorithm
	orders map[string]market.OrderData
	trades map[string]market.TradeData

	values     map[market.Instrument]instrumentValue
	longValue  float64
	shortValue float64
	netValue   float64
	deviation  float64
	longPause  bool
	shortPause bool

	algoStarted bool
}

// New 创建引擎实例。
func New(cfg Config, host market.Host, sink EventSink, ledger TradeRecorder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NopSink{}
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		host:      host,
		sink:      sink,
		ledger:    ledger,
		converter: offset.New(),
		algos:     make(map[market.Instrument]algo.Algorithm),
		orders:    make(map[string]market.OrderData),
		trades:    make(map[string]market.TradeData),
		values:    make(map[market.Instrument]instrumentValue),
	}
}

// Init 载入持久化数据并完成初始化，数据文件损坏视为致命错误。
func (e *Engine) Init() error {
	if err := e.loadData(); err != nil {
		return err
	}

	e.WriteLog("引擎初始化完成")
	return nil
}

// Close 在受控退出时把状态写入主数据文件。
func (e *Engine) Close() error {
	return e.SaveData()
}

func (e *Engine) newAlgo(
	instrument market.Instrument,
	direction market.Direction,
	targetVolume float64,
	cadenceTicks int,
	participationRate float64,
) algo.Algorithm {
	if e.cfg.FixedTarget {
		return algo.NewFixed(e, instrument, direction, targetVolume, cadenceTicks, participationRate)
	}
	return algo.New(e, instrument, direction, targetVolume, cadenceTicks, participationRate)
}

// AddAlgo 为合约添加切片算法。合约信息未知时添加失败；
// 重复添加会覆盖旧实例。
func (e *Engine) AddAlgo(
	instrument market.Instrument,
	direction market.Direction,
	targetVolume float64,
	cadenceTicks int,
	participationRate float64,
) bool {
	if _, ok := e.host.GetContract(instrument); !ok {
		e.WriteLog(fmt.Sprintf("添加算法失败, 找不到合约: %s", instrument))
		return false
	}

	if err := e.host.Subscribe(instrument); err != nil {
		e.logger.Warn("订阅行情失败", zap.String("instrument", instrument.String()), zap.Error(err))
	}

	a := e.newAlgo(instrument, direction, targetVolume, cadenceTicks, participationRate)
	e.algos[instrument] = a
	e.putAlgoEvent(a)

	e.WriteLog(fmt.Sprintf("添加算法成功: %s", instrument))
	return true
}

// StartAlgo 启动算法，仅允许从等待状态启动。
func (e *Engine) StartAlgo(instrument market.Instrument) bool {
	a, ok := e.algos[instrument]
	if !ok {
		return false
	}

	st := a.State()
	if st.Status != algo.StatusWaiting {
		return false
	}

	st.Status = algo.StatusRunning
	e.putAlgoEvent(a)

	e.WriteLog(fmt.Sprintf("启动算法执行: %s", instrument))
	return true
}

// PauseAlgo 暂停算法，仅允许从运行状态暂停。
func (e *Engine) PauseAlgo(instrument market.Instrument) bool {
	a, ok := e.algos[instrument]
	if !ok {
		return false
	}

	st := a.State()
	if st.Status != algo.StatusRunning {
		return false
	}

	st.Status = algo.StatusPaused
	e.putAlgoEvent(a)

	e.WriteLog(fmt.Sprintf("暂停算法执行: %s", instrument))
	return true
}

// ResumeAlgo 恢复算法，仅允许从暂停状态恢复。
func (e *Engine) ResumeAlgo(instrument market.Instrument) bool {
	a, ok := e.algos[instrument]
	if !ok {
		return false
	}

	st := a.State()
	if st.Status != algo.StatusPaused {
		return false
	}

	st.Status = algo.StatusRunning
	e.putAlgoEvent(a)

	e.WriteLog(fmt.Sprintf("恢复算法执行: %s", instrument))
	return true
}

// StopAlgo 停止算法，仅允许停止运行或暂停状态的算法，停止后不可恢复。
func (e *Engine) StopAlgo(instrument market.Instrument) bool {
	a, ok := e.algos[instrument]
	if !ok {
		return false
	}

	st := a.State()
	if st.Status != algo.StatusRunning && st.Status != algo.StatusPaused {
		return false
	}

	st.Status = algo.StatusStopped
	e.putAlgoEvent(a)

	e.WriteLog(fmt.Sprintf("停止算法执行: %s", instrument))
	return true
}

// StartAll 批量启动全部算法，单个失败不影响其他合约。
func (e *Engine) StartAll() {
	for instrument := range e.algos {
		e.StartAlgo(instrument)
	}

	e.algoStarted = true
}

// PauseAll 批量暂停指定方向的算法。
func (e *Engine) PauseAll(direction market.Direction) {
	for instrument, a := range e.algos {
		if a.State().Direction == direction {
			e.PauseAlgo(instrument)
		}
	}
}

// ResumeAll 批量恢复全部算法。
func (e *Engine) ResumeAll() {
	for instrument := range e.algos {
		e.ResumeAlgo(instrument)
	}
}

// StopAll 批量停止全部算法。
func (e *Engine) StopAll() {
	for instrument := range e.algos {
		e.StopAlgo(instrument)
	}
}

// ClearAll 清空全部算法实例。存在运行或暂停中的算法时拒绝执行。
func (e *Engine) ClearAll() bool {
	for _, a := range e.algos {
		switch a.State().Status {
		case algo.StatusRunning, algo.StatusPaused:
			return false
		}
	}

	e.algos = make(map[market.Instrument]algo.Algorithm)
	e.values = make(map[market.Instrument]instrumentValue)

	e.longPause = false
	e.shortPause = false
	e.putExposureEvent()

	e.algoStarted = false

	e.WriteLog("清空所有算法")
	return true
}

// Retarget 在线调整目标仓位并强制尽快重新评估。
// targetVolume 为名义方向上的量，空头算法内部取负。
func (e *Engine) Retarget(instrument market.Instrument, targetVolume float64) bool {
	a, ok := e.algos[instrument]
	if !ok {
		return false
	}

	st := a.State()
	if st.Direction == market.DirectionShort {
		st.TargetVolume = -targetVolume
	} else {
		st.TargetVolume = targetVolume
	}
	resetCadence(st)

	e.WriteLog(fmt.Sprintf("[%s] 改变目标仓位为: %v", instrument, targetVolume))
	e.putAlgoEvent(a)
	return true
}

// CloseAllPositions 把全部算法的目标仓位清零并置为运行状态，
// 平仓阶段的逻辑随后会自动把持仓打平。
func (e *Engine) CloseAllPositions() {
	for _, a := range e.algos {
		st := a.State()
		st.TargetVolume = 0
		resetCadence(st)
		st.Status = algo.StatusRunning

		e.putAlgoEvent(a)
	}

	e.WriteLog("开始平掉所有仓位")
}

// ProcessTimer 处理定时事件：检查敞口、驱动运行中的算法并更新实时市值。
func (e *Engine) ProcessTimer() {
	e.checkExposure()

	// 复制列表，避免回调过程中字典变化
	running := make([]algo.Algorithm, 0, len(e.algos))
	for _, a := range e.algos {
		if a.State().Status == algo.StatusRunning {
			running = append(running, a)
		}
	}

	for _, a := range running {
		a.OnTimer()
		e.putAlgoEvent(a)

		st := a.State()

		tick, ok := e.host.GetTick(st.Instrument)
		if !ok {
			if err := e.host.Subscribe(st.Instrument); err != nil {
				e.logger.Warn("订阅行情失败", zap.String("instrument", st.Instrument.String()), zap.Error(err))
			}
			continue
		}

		contract, ok := e.host.GetContract(st.Instrument)
		if !ok {
			continue
		}

		e.values[st.Instrument] = instrumentValue{
			value:     tick.LastPrice * abs(st.CurrentPosition) * contract.Multiplier,
			direction: st.Direction,
		}
	}

	e.updateImmediateValue()
}

// ProcessTrade 处理成交事件，重复推送按成交号过滤。
func (e *Engine) ProcessTrade(trade market.TradeData) {
	if _, ok := e.trades[trade.TradeID]; ok {
		return
	}
	e.trades[trade.TradeID] = trade

	e.converter.UpdateTrade(trade)

	a, ok := e.algos[trade.Instrument]
	if !ok {
		return
	}

	a.OnTrade(trade)

	contract, _ := e.host.GetContract(trade.Instrument)
	if e.ledger != nil {
		if err := e.ledger.Record(trade, contract); err != nil {
			e.logger.Warn("写入成交流水失败", zap.String("trade_id", trade.TradeID), zap.Error(err))
		}
	}

	st := a.State()
	if st.CurrentPosition == st.TargetVolume {
		e.WriteLog(fmt.Sprintf("%s 交易结束! [%v/%v]", trade.Instrument, st.CurrentPosition, st.TargetVolume))
	}

	e.putAlgoEvent(a)
}

// ProcessOrder 处理委托事件，已结束委托的重复推送被过滤。
func (e *Engine) ProcessOrder(order market.OrderData) {
	existing, ok := e.orders[order.OrderID]
	if ok && !existing.IsActive() {
		return
	}
	e.orders[order.OrderID] = order

	e.converter.UpdateOrder(order)

	if a, ok := e.algos[order.Instrument]; ok {
		a.OnOrder(order)
	}
}

// ProcessPosition 处理账户持仓事件并推送组合持仓快照。
func (e *Engine) ProcessPosition(pos market.PositionData) {
	e.converter.UpdatePosition(pos)

	tick, ok := e.host.GetTick(pos.Instrument)
	if !ok {
		if err := e.host.Subscribe(pos.Instrument); err != nil {
			e.logger.Warn("订阅行情失败", zap.String("instrument", pos.Instrument.String()), zap.Error(err))
		}
		return
	}

	contract, ok := e.host.GetContract(pos.Instrument)
	if !ok {
		return
	}

	e.sink.OnHolding(HoldingData{
		PositionID: pos.PositionID(),
		Instrument: pos.Instrument.String(),
		Name:       contract.Name,
		Direction:  pos.Direction,
		Volume:     pos.Volume,
		Price:      pos.Price,
		Pnl:        round0(pos.Pnl),
		Value:      round0(tick.LastPrice * pos.Volume * contract.Multiplier),
	})
}

// SendOrder 把算法的下单请求经净仓转换后发往宿主，
// 返回全部生成的委托号。
func (e *Engine) SendOrder(
	instrument market.Instrument,
	direction market.Direction,
	price float64,
	volume float64,
) []string {
	if _, ok := e.host.GetContract(instrument); !ok {
		e.WriteLog(fmt.Sprintf("委托下单失败, 找不到合约: %s", instrument))
		return nil
	}

	original := market.OrderRequest{
		Instrument: instrument,
		Direction:  direction,
		Price:      price,
		Volume:     volume,
		Reference:  fmt.Sprintf("%s_%s", orderReference, instrument),
	}

	reqs := e.converter.Convert(original)

	orderIDs := make([]string, 0, len(reqs))
	for _, req := range reqs {
		orderID, err := e.host.SendOrder(req)
		if err != nil {
			e.logger.Warn("委托发送失败",
				zap.String("instrument", instrument.String()),
				zap.Error(err),
			)
			continue
		}
		if orderID == "" {
			continue
		}

		orderIDs = append(orderIDs, orderID)
		e.converter.UpdateOrderRequest(req, orderID)
	}

	return orderIDs
}

// CancelOrder 撤销指定委托，实际移除要等委托回报到达。
func (e *Engine) CancelOrder(orderID string) {
	if _, ok := e.orders[orderID]; !ok {
		e.WriteLog(fmt.Sprintf("委托撤单失败, 找不到委托: %s", orderID))
		return
	}

	if err := e.host.CancelOrder(orderID); err != nil {
		e.logger.Warn("委托撤单失败", zap.String("order_id", orderID), zap.Error(err))
	}
}

// GetTick 查询合约行情。
func (e *Engine) GetTick(instrument market.Instrument) (market.TickData, bool) {
	return e.host.GetTick(instrument)
}

// GetContract 查询合约信息。
func (e *Engine) GetContract(instrument market.Instrument) (market.ContractData, bool) {
	return e.host.GetContract(instrument)
}

// SaveBackup 把状态写入备份文件，失败只记录告警。
func (e *Engine) SaveBackup() {
	if e.cfg.BackupPath == "" {
		return
	}
	if err := e.saveTo(e.cfg.BackupPath); err != nil {
		e.logger.Warn("写入备份快照失败", zap.Error(err))
	}
}

// WriteLog 输出引擎日志并推送日志事件。
func (e *Engine) WriteLog(msg string) {
	e.logger.Info(msg)
	e.sink.OnLog(LogEvent{
		Timestamp: time.Now(),
		Message:   msg,
	})
}

// Algos 返回全部算法状态快照，按合约标识排序。
func (e *Engine) Algos() []AlgoSnapshot {
	snapshots := make([]AlgoSnapshot, 0, len(e.algos))
	for _, a := range e.algos {
		snapshots = append(snapshots, makeAlgoSnapshot(a))
	}
	sortAlgoSnapshots(snapshots)
	return snapshots
}

func (e *Engine) putAlgoEvent(a algo.Algorithm) {
	e.sink.OnAlgo(makeAlgoSnapshot(a))
}

func makeAlgoSnapshot(a algo.Algorithm) AlgoSnapshot {
	st := a.State()
	return AlgoSnapshot{
		Instrument:        st.Instrument.String(),
		Direction:         st.Direction,
		TargetVolume:      st.TargetVolume,
		CadenceTicks:      st.CadenceTicks,
		ParticipationRate: st.ParticipationRate,
		CadenceCounter:    st.CadenceCounter,
		CurrentPosition:   st.CurrentPosition,
		OffsetLabel:       st.OffsetLabel,
		ActiveOrders:      len(st.ActiveOrderIDs),
		PendingReexecute:  st.PendingReexecute,
		Status:            st.Status,
	}
}

// resetCadence 把节拍计数重置为启动引导值，下一个节拍即可触发执行。
func resetCadence(st *algo.State) {
	st.CadenceCounter = st.CadenceTicks - 2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

var _ algo.Executor = (*Engine)(nil)
