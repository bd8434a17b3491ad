package reconcile

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDebugServerBroadcastsTraceEventsToConnectedClient(t *testing.T) {
	d := NewDebugServer()
	srv := httptest.NewServer(d)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial debug server: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register the client before
	// broadcasting — Upgrade happens synchronously in ServeHTTP but the
	// client-map insert races the dial's return on the client side.
	time.Sleep(20 * time.Millisecond)

	d.Broadcast([]byte(`{"name":"test"}`))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected to receive the broadcast message: %v", err)
	}
	if string(msg) != `{"name":"test"}` {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestDebugServerAttachStreamsTraceEvents(t *testing.T) {
	d := NewDebugServer()
	srv := httptest.NewServer(d)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial debug server: %v", err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	buf := &bufferCloser{}
	tf := NewTracefile(buf)
	d.Attach(tf)
	tf.Event("probe", "reconcile")

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected Attach to stream the event over the websocket: %v", err)
	}
	if !strings.Contains(string(msg), "probe") {
		t.Fatalf("expected the streamed event to mention its name, got %s", msg)
	}
}
