package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"

	"kollektiv/pkg/llm"
)

// CLIMonitor prints every message of an exchange to a terminal, framed by
// the role banner. Discarded negotiation attempts are shown in gray.
type CLIMonitor struct {
	writer io.Writer // The output destination, typically os.Stdout.
	// ShowDiscarded also prints attempts that never reached the history.
	ShowDiscarded bool
	mu            sync.Mutex
}

// NewCLIMonitor creates a new CLI monitor
func NewCLIMonitor() *CLIMonitor {
	return NewCLIMonitorTo(os.Stdout)
}

// NewCLIMonitorTo writes to w instead of stdout.
func NewCLIMonitorTo(w io.Writer) *CLIMonitor {
	return &CLIMonitor{writer: w}
}

// Start starts the CLI monitor
func (m *CLIMonitor) Start() error {
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "💬 CLI Monitor Active - conversation turns will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

// Stop stops the CLI monitor
func (m *CLIMonitor) Stop() error {
	return nil
}

// OnMessage receives and displays a monitoring message
func (m *CLIMonitor) OnMessage(msg MonitorMessage) {
	if !msg.Committed && !m.ShowDiscarded {
		return
	}

	rendered := llm.Message{Role: msg.Role, Content: msg.Content}.Format()
	timestamp := msg.Timestamp.Format("2006-01-02 15:04:05")

	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.Committed {
		fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m\n%s\n", timestamp, rendered)
		return
	}
	// Use gray color for discarded attempts
	fmt.Fprintf(m.writer, "\033[90m[%s] (discarded)\n%s\033[0m\n", timestamp, rendered)
}
