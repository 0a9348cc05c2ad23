package monitor

import (
	"encoding/json"
	"time"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventLog      EventType = "log"
	EventAlgo     EventType = "algo"
	EventExposure EventType = "exposure"
	EventHolding  EventType = "holding"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RawEvent 为从数据库读回的事件。
type RawEvent struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}
