package monitor

import (
	"bytes"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kollektiv/pkg/llm"
)

type recordingMonitor struct {
	msgs []MonitorMessage
}

func (r *recordingMonitor) Start() error                 { return nil }
func (r *recordingMonitor) Stop() error                  { return nil }
func (r *recordingMonitor) OnMessage(msg MonitorMessage) { r.msgs = append(r.msgs, msg) }

func TestMultiFansOut(t *testing.T) {
	a, b := &recordingMonitor{}, &recordingMonitor{}
	m := NewMulti(a)
	m.Add(b)

	m.OnMessage(NewMonitorMessage("ex", llm.NewUserMessage("hi"), true))

	assert.Len(t, a.msgs, 1)
	assert.Len(t, b.msgs, 1)
	assert.Equal(t, "ex", b.msgs[0].ExchangeID)
}

func TestCLIMonitorHidesDiscarded(t *testing.T) {
	var buf bytes.Buffer
	m := NewCLIMonitorTo(&buf)

	m.OnMessage(NewMonitorMessage("ex", llm.NewAssistantMessage("bad attempt"), false))
	assert.Empty(t, buf.String())

	m.OnMessage(NewMonitorMessage("ex", llm.NewAssistantMessage("good answer"), true))
	assert.Contains(t, buf.String(), "= Assistant =")
	assert.Contains(t, buf.String(), "good answer")

	m.ShowDiscarded = true
	m.OnMessage(NewMonitorMessage("ex", llm.NewAssistantMessage("bad attempt"), false))
	assert.Contains(t, buf.String(), "(discarded)")
}

func TestWebMonitorBroadcast(t *testing.T) {
	m := NewWebMonitor("127.0.0.1:0")
	require.NoError(t, m.Start())
	defer m.Stop()

	m.OnMessage(NewMonitorMessage("ex", llm.NewUserMessage("before connect"), true))

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+m.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var env struct {
		Type string         `json:"type"`
		Data MonitorMessage `json:"data"`
	}

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "message", env.Type)
	assert.Equal(t, "before connect", env.Data.Content)

	m.OnMessage(NewMonitorMessage("ex", llm.NewAssistantMessage("live"), true))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, llm.RoleAssistant, env.Data.Role)
	assert.Equal(t, "live", env.Data.Content)
}
