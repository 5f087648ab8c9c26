package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"foreman/internal/agent/app/coordinator"
	"foreman/internal/agent/ports"
	"foreman/internal/observability"
)

// stubOrchestrator replays a fixed event sequence.
type stubOrchestrator struct {
	events []ports.Event
	err    error
	last   coordinator.Request
}

func (s *stubOrchestrator) Handle(ctx context.Context, req coordinator.Request) (<-chan ports.Event, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan ports.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func TestHealthz(t *testing.T) {
	s := New(Options{Coordinator: &stubOrchestrator{}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOrchestrateStreamsSSE(t *testing.T) {
	stub := &stubOrchestrator{events: []ports.Event{
		ports.NewStatusEvent("coder", ports.StatusExecuting),
		ports.NewSummaryEvent("done deal", 0, 1),
		ports.NewDoneEvent(),
	}}
	s := New(Options{Coordinator: stub})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := `{"messages": [{"role": "user", "content": "add a submit button"}], "controlMode": "auto"}`
	resp, err := http.Post(srv.URL+"/api/orchestrate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 4096)
	var stream strings.Builder
	for {
		n, readErr := resp.Body.Read(buf)
		stream.Write(buf[:n])
		if readErr != nil {
			break
		}
	}
	out := stream.String()
	require.Contains(t, out, "event: status")
	require.Contains(t, out, "event: summary")
	require.Contains(t, out, `"warnings":1`)
	require.Contains(t, out, "event: done")

	require.Equal(t, "add a submit button", stub.last.Messages[0].Content)
	require.Equal(t, "auto", stub.last.ControlMode)
}

func TestOrchestrateRejectsBadBody(t *testing.T) {
	s := New(Options{Coordinator: &stubOrchestrator{}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/orchestrate", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.MustNewMetrics(reg)
	m.RecordDecision("delegate")

	s := New(Options{Coordinator: &stubOrchestrator{}, Gatherer: reg})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketReceivesBroadcast(t *testing.T) {
	s := New(Options{Coordinator: &stubOrchestrator{}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return s.Broadcaster().ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	s.Broadcaster().OnEvent(ports.NewStatusEvent("tester", ports.StatusThinking))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(payload), `"type":"status"`)
	require.Contains(t, string(payload), "tester")
}

func TestBroadcasterDropsForSlowClients(t *testing.T) {
	b := NewBroadcaster(nil)
	ch := b.Register()
	defer b.Unregister(ch)

	// Fill beyond the buffer; OnEvent must never block.
	for i := 0; i < 250; i++ {
		b.OnEvent(ports.NewStatusEvent("coder", ports.StatusExecuting))
	}
	require.Equal(t, 100, len(ch))
}
