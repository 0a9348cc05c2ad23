// Package ledger 维护成交流水：按日追加CSV文件，并镜像一份到
// SQLite 便于查询。流水只做审计，不用于状态恢复。
package ledger

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"rebalance-trader/internal/market"
	"rebalance-trader/internal/store"
)

var csvHeader = []string{
	"trade_id",
	"timestamp",
	"symbol",
	"exchange",
	"multiplier",
	"direction",
	"offset",
	"price",
	"volume",
	"venue",
}

// Ledger 为成交流水记录器。
type Ledger struct {
	dir    string
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// New 创建流水记录器。dir 为空时不写CSV文件；store 为空时不写数据库。
func New(dir string, st *store.Store, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: 创建流水目录失败: %w", err)
		}
	}

	if st != nil {
		l.db = st.DB()
		if err := l.initSchema(); err != nil {
			return nil, err
		}
	}

	return l, nil
}

func (l *Ledger) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS trade_ledger (
	trade_id TEXT PRIMARY KEY,
	traded_at TEXT NOT NULL,
	symbol TEXT NOT NULL,
	exchange TEXT NOT NULL,
	multiplier REAL NOT NULL,
	direction TEXT NOT NULL,
	offset TEXT NOT NULL,
	price REAL NOT NULL,
	volume REAL NOT NULL,
	venue TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_ledger_symbol ON trade_ledger(symbol);
`
	if _, err := l.db.Exec(stmt); err != nil {
		return fmt.Errorf("ledger: 初始化表失败: %w", err)
	}
	return nil
}

// Record 追加一条成交记录。
func (l *Ledger) Record(trade market.TradeData, contract market.ContractData) error {
	if l.db != nil {
		if err := l.recordDB(trade, contract); err != nil {
			return err
		}
	}

	if l.dir != "" {
		if err := l.appendCSV(trade, contract); err != nil {
			return err
		}
	}

	return nil
}

func (l *Ledger) recordDB(trade market.TradeData, contract market.ContractData) error {
	_, err := l.db.Exec(
		`INSERT OR IGNORE INTO trade_ledger
			(trade_id, traded_at, symbol, exchange, multiplier, direction, offset, price, volume, venue)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.TradeID,
		trade.Timestamp.Format(time.RFC3339),
		trade.Instrument.Symbol,
		trade.Instrument.Exchange,
		contract.Multiplier,
		string(trade.Direction),
		string(trade.Offset),
		trade.Price,
		trade.Volume,
		trade.Gateway,
	)
	if err != nil {
		return fmt.Errorf("ledger: 写入数据库失败: %w", err)
	}
	return nil
}

func (l *Ledger) appendCSV(trade market.TradeData, contract market.ContractData) error {
	path := filepath.Join(l.dir, l.now().Format("trade_2006_01_02")+".csv")

	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: 打开流水文件失败: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)

	if writeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return fmt.Errorf("ledger: 写入表头失败: %w", err)
		}
	}

	row := []string{
		trade.TradeID,
		trade.Timestamp.Format(time.RFC3339),
		trade.Instrument.Symbol,
		trade.Instrument.Exchange,
		formatFloat(contract.Multiplier),
		string(trade.Direction),
		string(trade.Offset),
		formatFloat(trade.Price),
		formatFloat(trade.Volume),
		trade.Gateway,
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("ledger: 写入流水失败: %w", err)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("ledger: 落盘流水失败: %w", err)
	}

	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
