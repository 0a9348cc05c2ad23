package monitor

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rebalance-trader/internal/engine"
	"rebalance-trader/internal/store"
)

// Service 负责把引擎推送的监控事件持久化到 SQLite，
// 并向监控接口提供检索能力。实现 engine.EventSink。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.Exec(
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// OnLog 记录引擎日志事件。
func (s *Service) OnLog(event engine.LogEvent) {
	if err := s.Record(Event{
		Type:      EventLog,
		Timestamp: event.Timestamp,
		Payload:   event,
	}); err != nil {
		s.logger.Warn("记录日志事件失败", zap.Error(err))
	}
}

// OnAlgo 记录算法状态快照。
func (s *Service) OnAlgo(snapshot engine.AlgoSnapshot) {
	if err := s.Record(Event{
		Type:    EventAlgo,
		Payload: snapshot,
	}); err != nil {
		s.logger.Warn("记录算法事件失败", zap.Error(err))
	}
}

// OnExposure 记录组合敞口快照。
func (s *Service) OnExposure(data engine.ExposureData) {
	if err := s.Record(Event{
		Type:    EventExposure,
		Payload: data,
	}); err != nil {
		s.logger.Warn("记录敞口事件失败", zap.Error(err))
	}
}

// OnHolding 记录组合持仓快照。
func (s *Service) OnHolding(data engine.HoldingData) {
	if err := s.Record(Event{
		Type:    EventHolding,
		Payload: data,
	}); err != nil {
		s.logger.Warn("记录持仓事件失败", zap.Error(err))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(eventType EventType, limit int) ([]RawEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]RawEvent, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, RawEvent{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}

var _ engine.EventSink = (*Service)(nil)
