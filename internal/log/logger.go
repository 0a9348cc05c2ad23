// Package log 构建全系统共用的 zap 日志实例。
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rebalance-trader/internal/config"
)

// NewLogger 根据配置创建 zap.Logger。配置了日志目录时，
// 除标准输出外再按日落一份文件，便于盘后回查。
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		return nil, fmt.Errorf("解析日志级别失败: %w", err)
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}
	errorPaths := cfg.ErrorOutputPaths
	if len(errorPaths) == 0 {
		errorPaths = []string{"stderr"}
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		daily := filepath.Join(cfg.Dir, time.Now().Format("trader_2006_01_02")+".log")
		outputPaths = append(outputPaths, daily)
		errorPaths = append(errorPaths, daily)
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         cfg.Encoding,
		EncoderConfig:    encoderConfig(cfg.Encoding),
		OutputPaths:      outputPaths,
		ErrorOutputPaths: errorPaths,
		InitialFields:    map[string]interface{}{"service": "rebalance-trader"},
	}

	logger, err := zapCfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("创建日志实例失败: %w", err)
	}

	return logger, nil
}

func encoderConfig(encoding string) zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.NameKey = "logger"
	ec.CallerKey = "caller"
	ec.FunctionKey = zapcore.OmitKey
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder

	// 彩色级别只用于控制台编码，文件与JSON输出保持纯文本
	if encoding == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	}
	return ec
}
