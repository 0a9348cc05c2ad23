package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rebalance-trader/internal/basket"
	"rebalance-trader/internal/config"
	"rebalance-trader/internal/engine"
	"rebalance-trader/internal/host"
	"rebalance-trader/internal/ledger"
	"rebalance-trader/internal/market"
	"rebalance-trader/internal/monitor"
	"rebalance-trader/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装宿主、引擎与监控组件，驱动事件循环直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("调仓交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("host_mode", a.cfg.Host.Mode),
		zap.Int("instruments", len(a.cfg.Host.Instruments)),
	)

	hub := newEventHub(a.logger)
	sinks := multiSink{hub}

	var monitorSvc *monitor.Service
	if a.cfg.Monitor.Enable {
		svc, err := monitor.NewService(a.store, a.logger)
		if err != nil {
			return fmt.Errorf("初始化监控服务失败: %w", err)
		}
		monitorSvc = svc
		sinks = append(sinks, svc)
	}

	tradeLedger, err := ledger.New(a.cfg.Ledger.Dir, a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化成交台账失败: %w", err)
	}

	tradingHost, feed, err := a.buildHost(ctx)
	if err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		DataPath:      a.cfg.Engine.DataPath,
		BackupPath:    a.cfg.Engine.BackupPath,
		ExposureLimit: a.cfg.Risk.ExposureLimit,
		EnableBreaker: a.cfg.Risk.EnableBreaker,
		FixedTarget:   a.cfg.Engine.FixedTarget,
	}, tradingHost, sinks, tradeLedger, a.logger)

	if err := eng.Init(); err != nil {
		return fmt.Errorf("引擎初始化失败: %w", err)
	}

	if a.cfg.Basket.Path != "" {
		if err := a.importBasket(eng); err != nil {
			return err
		}
	}

	if a.cfg.Monitor.Enable {
		if err := startMonitorServer(ctx, monitorSvc, hub, a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.run(gctx)
		return nil
	})

	g.Go(func() error {
		return a.eventLoop(gctx, eng, feed)
	})

	runErr := g.Wait()

	if err := eng.Close(); err != nil {
		a.logger.Error("退出时保存引擎数据失败", zap.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", runErr)
	}
	a.logger.Info("系统收到退出信号，已停止")
	return nil
}

// buildHost 按配置选择宿主实现。
func (a *App) buildHost(ctx context.Context) (market.Host, host.Feed, error) {
	switch a.cfg.Host.Mode {
	case config.HostModeSim:
		contracts := make([]market.ContractData, 0, len(a.cfg.Host.Instruments))
		for _, ic := range a.cfg.Host.Instruments {
			instrument, err := market.ParseInstrument(ic.Instrument)
			if err != nil {
				return nil, nil, fmt.Errorf("合约配置非法: %w", err)
			}
			contracts = append(contracts, market.ContractData{
				Instrument: instrument,
				Name:       ic.Name,
				PriceTick:  ic.PriceTick,
				MinVolume:  ic.MinVolume,
				Multiplier: ic.Multiplier,
				Gateway:    "SIM",
			})
		}
		sim := host.NewSim(contracts)
		return sim, sim, nil

	case config.HostModeCCXT:
		live, err := host.NewCCXT(a.cfg.Host, a.logger)
		if err != nil {
			return nil, nil, err
		}
		live.Start(ctx)
		return live, live, nil

	default:
		return nil, nil, fmt.Errorf("未知的宿主模式: %q", a.cfg.Host.Mode)
	}
}

// importBasket 启动时导入委托篮子。解析失败放弃整个文件。
func (a *App) importBasket(eng *engine.Engine) error {
	rows, err := basket.Load(a.cfg.Basket.Path)
	if err != nil {
		return fmt.Errorf("导入委托篮子失败: %w", err)
	}

	added := 0
	for _, row := range rows {
		if eng.AddAlgo(row.Instrument, row.Direction, row.TargetVolume, row.CadenceTicks, row.ParticipationRate) {
			added++
		}
	}

	a.logger.Info("委托篮子导入完成",
		zap.String("path", a.cfg.Basket.Path),
		zap.Int("total", len(rows)),
		zap.Int("added", added),
	)

	if a.cfg.Basket.AutoStart {
		eng.StartAll()
	}
	return nil
}

// eventLoop 在单协程内串行处理定时与回报事件，
// 引擎内部因此不需要任何锁。
func (a *App) eventLoop(ctx context.Context, eng *engine.Engine, feed host.Feed) error {
	interval := a.cfg.Timer.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			eng.ProcessTimer()
		case event, ok := <-feed.Events():
			if !ok {
				return nil
			}
			switch {
			case event.Order != nil:
				eng.ProcessOrder(*event.Order)
			case event.Trade != nil:
				eng.ProcessTrade(*event.Trade)
			case event.Position != nil:
				eng.ProcessPosition(*event.Position)
			}
		}
	}
}
