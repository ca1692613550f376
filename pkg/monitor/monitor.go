package monitor

import (
	"sync"
	"time"

	"kollektiv/pkg/llm"
)

// MonitorMessage 代表一則監控訊息
type MonitorMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	// Committed is false for negotiation attempts that were discarded.
	Committed  bool   `json:"committed"`
	ExchangeID string `json:"exchange_id,omitempty"`
}

// NewMonitorMessage wraps a conversation message for the monitors.
func NewMonitorMessage(exchangeID string, m llm.Message, committed bool) MonitorMessage {
	ts := time.Now()
	if m.Timestamp > 0 {
		ts = time.Unix(m.Timestamp, 0)
	}
	return MonitorMessage{
		Timestamp:  ts,
		Role:       m.Role,
		Content:    m.Content,
		Committed:  committed,
		ExchangeID: exchangeID,
	}
}

// Monitor 介面定義了監控器的行為
type Monitor interface {
	// Start 啟動監控器
	Start() error

	// Stop 停止監控器
	Stop() error

	// OnMessage 接收並顯示監控訊息
	OnMessage(msg MonitorMessage)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Start() error               { return nil }
func (Nop) Stop() error                { return nil }
func (Nop) OnMessage(_ MonitorMessage) {}

// Multi fans every message out to a list of monitors.
type Multi struct {
	mu       sync.RWMutex
	monitors []Monitor
}

// NewMulti 建立組合監控器
func NewMulti(monitors ...Monitor) *Multi {
	return &Multi{monitors: monitors}
}

// Add registers another monitor.
func (m *Multi) Add(mon Monitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitors = append(m.monitors, mon)
}

func (m *Multi) Start() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mon := range m.monitors {
		if err := mon.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every monitor and returns the first error.
func (m *Multi) Stop() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var first error
	for _, mon := range m.monitors {
		if err := mon.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Multi) OnMessage(msg MonitorMessage) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mon := range m.monitors {
		mon.OnMessage(msg)
	}
}
