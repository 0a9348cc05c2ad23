package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Timer    TimerConfig    `mapstructure:"timer"`
	Host     HostConfig     `mapstructure:"host"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Basket   BasketConfig   `mapstructure:"basket"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// TimerConfig 控制定时事件周期，所有节拍计数都以它为时钟源。
type TimerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// 宿主模式。
const (
	HostModeSim  = "sim"
	HostModeCCXT = "ccxt"
)

// HostConfig 描述交易宿主接入方式。
type HostConfig struct {
	Mode         string             `mapstructure:"mode"` // sim | ccxt
	Exchange     string             `mapstructure:"exchange"`
	APIKey       string             `mapstructure:"api_key"`
	APISecret    string             `mapstructure:"api_secret"`
	APIPass      string             `mapstructure:"api_password"`
	UseSandbox   bool               `mapstructure:"use_sandbox"`
	PollInterval time.Duration      `mapstructure:"poll_interval"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Instruments  []InstrumentConfig `mapstructure:"instruments"`
}

// InstrumentConfig 描述单个合约的接入信息与静态参数。
type InstrumentConfig struct {
	Instrument string  `mapstructure:"instrument"` // symbol.EXCHANGE
	CcxtSymbol string  `mapstructure:"ccxt_symbol"`
	Name       string  `mapstructure:"name"`
	PriceTick  float64 `mapstructure:"price_tick"`
	MinVolume  float64 `mapstructure:"min_volume"`
	Multiplier float64 `mapstructure:"multiplier"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// EngineConfig 控制引擎持久化与算法变体。
type EngineConfig struct {
	DataPath    string `mapstructure:"data_path"`
	BackupPath  string `mapstructure:"backup_path"`
	FixedTarget bool   `mapstructure:"fixed_target"`
}

// RiskConfig 管理组合敞口熔断参数。
type RiskConfig struct {
	ExposureLimit float64 `mapstructure:"exposure_limit"`
	EnableBreaker bool    `mapstructure:"enable_breaker"`
}

// BasketConfig 控制启动时的委托篮子导入。
type BasketConfig struct {
	Path      string `mapstructure:"path"`
	AutoStart bool   `mapstructure:"auto_start"`
}

// LedgerConfig 控制成交流水输出。
type LedgerConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
	Dir              string   `mapstructure:"dir"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Timer.Interval <= 0 {
		err = multierr.Append(err, errors.New("timer.interval 必须大于0"))
	}

	switch c.Host.Mode {
	case HostModeSim:
	case HostModeCCXT:
		if c.Host.Exchange == "" {
			err = multierr.Append(err, errors.New("host.exchange 不能为空"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("host.mode 取值非法: %q", c.Host.Mode))
	}

	for i, instrument := range c.Host.Instruments {
		if instrument.Instrument == "" {
			err = multierr.Append(err, fmt.Errorf("host.instruments[%d].instrument 不能为空", i))
		}
		if instrument.Multiplier <= 0 {
			err = multierr.Append(err, fmt.Errorf("host.instruments[%d].multiplier 必须大于0", i))
		}
		if instrument.PriceTick <= 0 {
			err = multierr.Append(err, fmt.Errorf("host.instruments[%d].price_tick 必须大于0", i))
		}
	}

	if c.Engine.DataPath == "" {
		err = multierr.Append(err, errors.New("engine.data_path 不能为空"))
	}
	if c.Risk.EnableBreaker && c.Risk.ExposureLimit <= 0 {
		err = multierr.Append(err, errors.New("risk.exposure_limit 启用熔断时必须大于0"))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Monitor.Enable && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, fmt.Errorf("monitor.port 取值非法: %d", c.Monitor.Port))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
