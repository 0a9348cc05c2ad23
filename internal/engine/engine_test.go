package engine

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rebalance-trader/internal/algo"
	"rebalance-trader/internal/market"
)

var (
	rbInstrument = market.Instrument{Symbol: "rb2510", Exchange: "SHFE"}
	cuInstrument = market.Instrument{Symbol: "cu2509", Exchange: "SHFE"}
)

type mockHost struct {
	ticks     map[market.Instrument]market.TickData
	contracts map[market.Instrument]market.ContractData
	sent      []market.OrderRequest
	cancelled []string
	nextID    int
	failSend  bool
}

func newMockHost() *mockHost {
	return &mockHost{
		ticks:     make(map[market.Instrument]market.TickData),
		contracts: make(map[market.Instrument]market.ContractData),
	}
}

func (m *mockHost) addInstrument(instrument market.Instrument, lastPrice, askVolume float64) {
	m.ticks[instrument] = market.TickData{
		Instrument: instrument,
		BidPrice1:  lastPrice - 1,
		BidVolume1: askVolume,
		AskPrice1:  lastPrice + 1,
		AskVolume1: askVolume,
		LastPrice:  lastPrice,
	}
	m.contracts[instrument] = market.ContractData{
		Instrument: instrument,
		PriceTick:  1,
		MinVolume:  1,
		Multiplier: 1,
	}
}

func (m *mockHost) GetTick(instrument market.Instrument) (market.TickData, bool) {
	tick, ok := m.ticks[instrument]
	return tick, ok
}

func (m *mockHost) GetContract(instrument market.Instrument) (market.ContractData, bool) {
	contract, ok := m.contracts[instrument]
	return contract, ok
}

func (m *mockHost) Subscribe(market.Instrument) error { return nil }

func (m *mockHost) SendOrder(req market.OrderRequest) (string, error) {
	if m.failSend {
		return "", fmt.Errorf("send rejected")
	}
	m.sent = append(m.sent, req)
	m.nextID++
	return fmt.Sprintf("order-%d", m.nextID), nil
}

func (m *mockHost) CancelOrder(orderID string) error {
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

type recordingSink struct {
	logs      []LogEvent
	algos     []AlgoSnapshot
	exposures []ExposureData
	holdings  []HoldingData
}

func (r *recordingSink) OnLog(event LogEvent)      { r.logs = append(r.logs, event) }
func (r *recordingSink) OnAlgo(s AlgoSnapshot)     { r.algos = append(r.algos, s) }
func (r *recordingSink) OnExposure(d ExposureData) { r.exposures = append(r.exposures, d) }
func (r *recordingSink) OnHolding(d HoldingData)   { r.holdings = append(r.holdings, d) }

func (r *recordingSink) hasLogContaining(sub string) bool {
	for _, event := range r.logs {
		if strings.Contains(event.Message, sub) {
			return true
		}
	}
	return false
}

type recordingLedger struct {
	trades []market.TradeData
}

func (r *recordingLedger) Record(trade market.TradeData, _ market.ContractData) error {
	r.trades = append(r.trades, trade)
	return nil
}

func newTestEngine(t *testing.T, cfg Config, host *mockHost) (*Engine, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	eng := New(cfg, host, sink, nil, nil)
	if err := eng.Init(); err != nil {
		t.Fatalf("engine init failed: %v", err)
	}
	return eng, sink
}

func TestAddAlgo_UnknownContractFails(t *testing.T) {
	host := newMockHost()
	eng, sink := newTestEngine(t, Config{}, host)

	if eng.AddAlgo(rbInstrument, market.DirectionLong, 100, 5, 0.1) {
		t.Fatalf("expected add to fail without contract")
	}
	if !sink.hasLogContaining("找不到合约") {
		t.Fatalf("expected missing-contract log, got %v", sink.logs)
	}
}

func TestLifecycleTransitionsGuarded(t *testing.T) {
	host := newMockHost()
	host.addInstrument(rbInstrument, 3500, 300)
	eng, _ := newTestEngine(t, Config{}, host)

	if !eng.AddAlgo(rbInstrument, market.DirectionLong, 100, 5, 0.1) {
		t.Fatalf("add algo failed")
	}

	if eng.PauseAlgo(rbInstrument) {
		t.Errorf("pause from waiting should fail")
	}
	if !eng.StartAlgo(rbInstrument) {
		t.Errorf("start from waiting should succeed")
	}
	if eng.StartAlgo(rbInstrument) {
		t.Errorf("start from running should fail")
	}
	if !eng.PauseAlgo(rbInstrument) {
		t.Errorf("pause from running should succeed")
	}
	if !eng.ResumeAlgo(rbInstrument) {
		t.Errorf("resume from paused should succeed")
	}
	if eng.ResumeAlgo(rbInstrument) {
		t.Errorf("resume from running should fail")
	}
	if !eng.StopAlgo(rbInstrument) {
		t.Errorf("stop from running should succeed")
	}
	if eng.StopAlgo(rbInstrument) {
		t.Errorf("stop from stopped should fail")
	}
	if eng.ResumeAlgo(rbInstrument) {
		t.Errorf("stopped algo must not resume")
	}
	if eng.StartAlgo(cuInstrument) {
		t.Errorf("unknown instrument should fail")
	}
}

func TestClearAll_RefusedWhileActive(t *testing.T) {
	host := newMockHost()
	host.addInstrument(rbInstrument, 3500, 300)
	eng, _ := newTestEngine(t, Config{}, host)

	eng.AddAlgo(rbInstrument, market.DirectionLong, 100, 5, 0.1)
	eng.StartAlgo(rbInstrument)

	if eng.ClearAll() {
		t.Fatalf("clear must be refused while an algo is running")
	}

	eng.PauseAlgo(rbInstrument)
	if eng.ClearAll() {
		t.Fatalf("clear must be refused while an algo is paused")
	}

	eng.StopAlgo(rbInstrument)
	if !eng.ClearAll() {
		t.Fatalf("clear should succeed once all algos are inactive")
	}
	if len(eng.Algos()) != 0 {
		t.Fatalf("expected empty algo set after clear")
	}
}

func TestRetarget_ShortFlipsSignAndResetsCadence(t *testing.T) {
	host := newMockHost()
	host.addInstrument(rbInstrument, 3500, 300)
	eng, _ := newTestEngine(t, Config{}, host)

	eng.AddAlgo(rbInstrument, market.DirectionShort, 100, 5, 0.1)
	a := eng.algos[rbInstrument]
	a.State().CadenceCounter = 0

	if !eng.Retarget(rbInstrument, 80) {
		t.Fatalf("retarget failed")
	}
	if a.State().TargetVolume != -80 {
		t.Errorf("expected short target -80, got %v", a.State().TargetVolume)
	}
	if a.State().CadenceCounter != 3 {
		t.Errorf("expected cadence counter rewound to 3, got %d", a.State().CadenceCounter)
	}

	if eng.Retarget(cuInstrument, 10) {
		t.Errorf("retarget of unknown instrument should fail")
	}
}

func TestCloseAllPositions(t *testing.T) {
	host := newMockHost()
	host.addInstrument(rbInstrument, 3500, 300)
	eng, _ := newTestEngine(t, Config{}, host)

	eng.AddAlgo(rbInstrument, market.DirectionLong, 100, 5, 0.1)
	a := eng.algos[rbInstrument]
	a.State().CurrentPosition = 40

	eng.CloseAllPositions()

	if a.State().TargetVolume != 0 {
		t.Errorf("expected target zeroed, got %v", a.State().TargetVolume)
	}
	if a.State().Status != algo.StatusRunning {
		t.Errorf("expected running status, got %v", a.State().Status)
	}
}

func TestProcessTrade_DeduplicatesByTradeID(t *testing.T) {
	host := newMockHost()
	host.addInstrument(rbInstrument, 3500, 300)
	eng, _ := newTestEngine(t, Config{}, host)

	eng.AddAlgo(rbInstrument, market.DirectionLong, 100, 5, 0.1)
	a := eng.algos[rbInstrument]

	trade := market.TradeData{
		TradeID:    "t-1",
		OrderID:    "order-1",
		Instrument: rbInstrument,
		Direction:  market.DirectionLong,
		Offset:     market.OffsetOpen,
		Price:      3502,
		Volume:     30,
		Timestamp:  time.Now(),
	}
	eng.ProcessTrade(trade)
	eng.ProcessTrade(trade)

	if a.State().CurrentPosition != 30 {
		t.Fatalf("expected position 30 after duplicate trade, got %v", a.State().CurrentPosition)
	}
}

func TestProcessTrade_CompletionLogAndLedger(t *testing.T) {
	host := newMockHost()
	host.addInstrument(rbInstrument, 3500, 300)
	sink := &recordingSink{}
	ledger := &recordingLedger{}
	eng := New(Config{}, host, sink, ledger, nil)

	eng.AddAlgo(rbInstrument, market.DirectionLong, 30, 5, 0.1)

	eng.ProcessTrade(market.TradeData{
		TradeID:    "t-1",
		Instrument: rbInstrument,
		Direction:  market.DirectionLong,
		Offset:     market.OffsetOpen,
		Volume:     30,
	})

	if !sink.hasLogContaining("交易结束!") {
		t.Fatalf("expected completion log, got %v", sink.logs)
	}
	if len(ledger.trades) != 1 {
		t.Fatalf("expected trade recorded in ledger, got %d", len(ledger.trades))
	}
}

func TestProcessOrder_IgnoresUpdatesAfterFinal(t *testing.T) {
	host := newMockHost()
	host.addInstrument(rbInstrument, 3500, 300)
	eng, _ := newTestEngine(t, Config{}, host)

	eng.AddAlgo(rbInstrument, market.DirectionLong, 100, 5, 0.1)
	a := eng.algos[rbInstrument]
	a.State().ActiveOrderIDs["order-1"] = struct{}{}
	a.State().PendingReexecute = true

	eng.ProcessOrder(market.OrderData{
		OrderID:    "order-1",
		Instrument: rbInstrument,
		Status:     market.StatusCancelled,
	})

	sentAfterFirst := len(host.sent)

	// 已结束委托的重复推送不得触发第二次执行
	eng.ProcessOrder(market.OrderData{
		OrderID:    "order-1",
		Instrument: rbInstrument,
		Status:     market.StatusCancelled,
	})

	if len(host.sent) != sentAfterFirst {
		t.Fatalf("duplicate final order event must be ignored")
	}
}

func TestCancelOrder_UnknownOrderLogged(t *testing.T) {
	host := newMockHost()
	eng, sink := newTestEngine(t, Config{}, host)

	eng.CancelOrder("missing")

	if len(host.cancelled) != 0 {
		t.Fatalf("unknown order must not reach host")
	}
	if !sink.hasLogContaining("找不到委托") {
		t.Fatalf("expected unknown-order log, got %v", sink.logs)
	}
}

func TestExecutionScenario_SlicesUntilTarget(t *testing.T) {
	host := newMockHost()
	host.addInstrument(rbInstrument, 3500, 300)
	eng, sink := newTestEngine(t, Config{}, host)

	eng.AddAlgo(rbInstrument, market.DirectionLong, 100, 3, 0.2)
	eng.StartAll()

	fill := func(orderID string, volume float64) {
		eng.ProcessTrade(market.TradeData{
			TradeID:    "trade-" + orderID,
			OrderID:    orderID,
			Instrument: rbInstrument,
			Direction:  market.DirectionLong,
			Offset:     market.OffsetOpen,
			Price:      3502,
			Volume:     volume,
		})
		eng.ProcessOrder(market.OrderData{
			OrderID:    orderID,
			Instrument: rbInstrument,
			Direction:  market.DirectionLong,
			Volume:     volume,
			Traded:     volume,
			Status:     market.StatusAllTraded,
		})
	}

	// 节拍3：首单在第2个定时事件触发
	eng.ProcessTimer()
	if len(host.sent) != 0 {
		t.Fatalf("no order expected on first tick")
	}
	eng.ProcessTimer()
	if len(host.sent) != 1 {
		t.Fatalf("expected first slice on second tick, got %d", len(host.sent))
	}
	if host.sent[0].Volume != 60 {
		t.Errorf("expected slice volume 300*0.2=60, got %v", host.sent[0].Volume)
	}
	if host.sent[0].Price != 3502 {
		t.Errorf("expected aggressive price 3502, got %v", host.sent[0].Price)
	}
	fill("order-1", 60)

	// 下一个节拍补足剩余量
	eng.ProcessTimer()
	eng.ProcessTimer()
	eng.ProcessTimer()
	if len(host.sent) != 2 {
		t.Fatalf("expected second slice after full cadence, got %d", len(host.sent))
	}
	if host.sent[1].Volume != 40 {
		t.Errorf("expected remaining volume 40, got %v", host.sent[1].Volume)
	}
	fill("order-2", 40)

	if !sink.hasLogContaining("交易结束!") {
		t.Fatalf("expected completion log")
	}

	// 到达目标后不再发单
	for i := 0; i < 6; i++ {
		eng.ProcessTimer()
	}
	if len(host.sent) != 2 {
		t.Fatalf("expected no further orders at target, got %d", len(host.sent))
	}
}

func TestExposure_DeviationByNominalDirection(t *testing.T) {
	host := newMockHost()
	host.addInstrument(rbInstrument, 10, 300)
	host.addInstrument(cuInstrument, 10, 300)
	eng, _ := newTestEngine(t, Config{}, host)

	eng.AddAlgo(rbInstrument, market.DirectionLong, 10, 100, 0.1)
	eng.AddAlgo(cuInstrument, market.DirectionShort, 4, 100, 0.1)
	eng.algos[rbInstrument].State().CurrentPosition = 10
	eng.algos[cuInstrument].State().CurrentPosition = -4
	eng.StartAll()

	eng.ProcessTimer()

	exposure := eng.Exposure()
	if exposure.LongValue != 100 {
		t.Errorf("expected long value 100, got %v", exposure.LongValue)
	}
	if exposure.ShortValue != 40 {
		t.Errorf("expected short value 40, got %v", exposure.ShortValue)
	}
	if exposure.NetValue != 60 {
		t.Errorf("expected net value 60, got %v", exposure.NetValue)
	}
	if math.Abs(exposure.Deviation-42.857142857142854) > 1e-9 {
		t.Errorf("expected deviation 100*60/140, got %v", exposure.Deviation)
	}
}

func TestExposureBreaker_PausesAndResumes(t *testing.T) {
	host := newMockHost()
	host.addInstrument(rbInstrument, 10, 300)
	host.addInstrument(cuInstrument, 10, 300)
	eng, sink := newTestEngine(t, Config{ExposureLimit: 50, EnableBreaker: true}, host)

	eng.AddAlgo(rbInstrument, market.DirectionLong, 10, 100, 0.1)
	eng.AddAlgo(cuInstrument, market.DirectionShort, 10, 100, 0.1)
	long := eng.algos[rbInstrument]
	short := eng.algos[cuInstrument]
	long.State().CurrentPosition = 10
	short.State().CurrentPosition = -4
	eng.StartAll()

	// 第1拍建立市值，第2拍净敞口60越限
	eng.ProcessTimer()
	eng.ProcessTimer()

	if long.State().Status != algo.StatusPaused {
		t.Fatalf("expected long side paused by breaker, got %v", long.State().Status)
	}
	if short.State().Status != algo.StatusRunning {
		t.Fatalf("expected short side unaffected, got %v", short.State().Status)
	}
	if !sink.hasLogContaining("暂停多头算法") {
		t.Fatalf("expected breaker log, got %v", sink.logs)
	}

	// 空头补齐后回到限额内，下一拍恢复
	short.State().CurrentPosition = -10
	eng.ProcessTimer()
	eng.ProcessTimer()

	if long.State().Status != algo.StatusRunning {
		t.Fatalf("expected long side resumed, got %v", long.State().Status)
	}
	if !sink.hasLogContaining("恢复算法执行") {
		t.Fatalf("expected resume log, got %v", sink.logs)
	}
}

func TestExposureBreaker_DisabledByDefault(t *testing.T) {
	host := newMockHost()
	host.addInstrument(rbInstrument, 1000, 300)
	eng, _ := newTestEngine(t, Config{ExposureLimit: 50}, host)

	eng.AddAlgo(rbInstrument, market.DirectionLong, 10, 100, 0.1)
	eng.algos[rbInstrument].State().CurrentPosition = 10
	eng.StartAll()

	eng.ProcessTimer()
	eng.ProcessTimer()

	if eng.algos[rbInstrument].State().Status != algo.StatusRunning {
		t.Fatalf("breaker must stay inactive unless enabled")
	}
}

func TestPersistence_RoundTripKeepsSignedTarget(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "rebalance_trader_data.json")

	host := newMockHost()
	host.addInstrument(rbInstrument, 3500, 300)
	host.addInstrument(cuInstrument, 70000, 300)

	eng1, _ := newTestEngine(t, Config{DataPath: dataPath}, host)
	eng1.AddAlgo(rbInstrument, market.DirectionShort, 50, 5, 0.1)
	eng1.AddAlgo(cuInstrument, market.DirectionLong, 100, 5, 0.2)
	eng1.algos[rbInstrument].State().CurrentPosition = -20
	eng1.algos[rbInstrument].State().OffsetLabel = "open-short"
	eng1.algos[cuInstrument].State().CurrentPosition = 30

	if err := eng1.Close(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	eng2, _ := newTestEngine(t, Config{DataPath: dataPath}, host)

	restored, ok := eng2.algos[rbInstrument]
	if !ok {
		t.Fatalf("short algo not restored")
	}
	st := restored.State()
	if st.TargetVolume != -50 {
		t.Errorf("expected signed target -50 restored verbatim, got %v", st.TargetVolume)
	}
	if st.CurrentPosition != -20 {
		t.Errorf("expected position -20 restored, got %v", st.CurrentPosition)
	}
	if st.OffsetLabel != "open-short" {
		t.Errorf("expected offset label restored, got %q", st.OffsetLabel)
	}
	if st.Status != algo.StatusWaiting {
		t.Errorf("restored algo must wait for explicit start, got %v", st.Status)
	}
}

func TestPersistence_SkipsZeroRows(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.json")

	host := newMockHost()
	host.addInstrument(rbInstrument, 3500, 300)
	host.addInstrument(cuInstrument, 70000, 300)

	eng1, _ := newTestEngine(t, Config{DataPath: dataPath}, host)
	eng1.AddAlgo(rbInstrument, market.DirectionLong, 100, 5, 0.1)
	eng1.AddAlgo(cuInstrument, market.DirectionLong, 0, 5, 0.1)

	if err := eng1.SaveData(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	eng2, _ := newTestEngine(t, Config{DataPath: dataPath}, host)
	if _, ok := eng2.algos[cuInstrument]; ok {
		t.Fatalf("zero target and zero position row must not be persisted")
	}
	if _, ok := eng2.algos[rbInstrument]; !ok {
		t.Fatalf("non-zero row must be persisted")
	}
}

func TestInit_CorruptDataFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.json")
	if err := os.WriteFile(dataPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	eng := New(Config{DataPath: dataPath}, newMockHost(), nil, nil, nil)
	if err := eng.Init(); err == nil {
		t.Fatalf("expected init to fail on corrupt data file")
	}
}

func TestSaveBackup_WritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	backupPath := filepath.Join(dir, "backup.json")

	host := newMockHost()
	host.addInstrument(rbInstrument, 3500, 300)
	eng, _ := newTestEngine(t, Config{BackupPath: backupPath}, host)

	eng.AddAlgo(rbInstrument, market.DirectionLong, 100, 5, 0.1)
	eng.SaveBackup()

	if _, err := os.Stat(backupPath); err != nil {
		t.Fatalf("expected backup file written: %v", err)
	}
}
