package syncbridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ChatForge/chatforge-gateway/internal/events"
	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBridge(t *testing.T) (*Bridge, *events.Core) {
	t.Helper()
	log := zap.NewNop()
	core := events.NewCore(log)
	b := New(Config{}, core, log)
	core.SetBridge(b)
	return b, core
}

func testEvent(typ string) *sdk.Event {
	return &sdk.Event{
		ID:          "ev-1",
		Type:        typ,
		Source:      "test",
		Timestamp:   time.Now(),
		Propagation: true,
	}
}

func TestHandlersRunByPriorityDescending(t *testing.T) {
	b, _ := newBridge(t)

	var order []string
	b.RegisterHandler("p1", "chat:message", 1, func(*sdk.Event) { order = append(order, "low") })
	b.RegisterHandler("p2", "chat:message", 10, func(*sdk.Event) { order = append(order, "high") })
	b.RegisterHandler("p3", "chat:message", 5, func(*sdk.Event) { order = append(order, "mid") })

	b.Forward(testEvent("chat:message"))

	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestHandlerTiesKeepRegistrationOrder(t *testing.T) {
	b, _ := newBridge(t)

	var order []string
	b.RegisterHandler("p1", "x", 5, func(*sdk.Event) { order = append(order, "first") })
	b.RegisterHandler("p2", "x", 5, func(*sdk.Event) { order = append(order, "second") })

	b.Forward(testEvent("x"))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestHandlerPanicDoesNotBlockSiblings(t *testing.T) {
	b, _ := newBridge(t)

	called := false
	b.RegisterHandler("p1", "x", 10, func(*sdk.Event) { panic("boom") })
	b.RegisterHandler("p2", "x", 1, func(*sdk.Event) { called = true })

	b.Forward(testEvent("x"))

	assert.True(t, called)
}

func TestUnregisterPluginRemovesAllTypes(t *testing.T) {
	b, _ := newBridge(t)

	var calls []string
	b.RegisterHandler("gone", "a", 0, func(*sdk.Event) { calls = append(calls, "gone-a") })
	b.RegisterHandler("gone", "b", 0, func(*sdk.Event) { calls = append(calls, "gone-b") })
	b.RegisterHandler("kept", "a", 0, func(*sdk.Event) { calls = append(calls, "kept-a") })

	b.UnregisterPlugin("gone")

	b.Forward(testEvent("a"))
	b.Forward(testEvent("b"))

	assert.Equal(t, []string{"kept-a"}, calls)
}

func TestBroadcastToConnectedClients(t *testing.T) {
	b, _ := newBridge(t)

	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		b.AttachClient(conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	b.Broadcast(testEvent("chat:message"))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got sdk.Event
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "chat:message", got.Type)
}

func TestBroadcastConcurrentPublishers(t *testing.T) {
	b, _ := newBridge(t)

	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		b.AttachClient(conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	// drena lo que llegue para que la escritora no se quede sin lector
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				b.Broadcast(testEvent("chat:message"))
			}
		}()
	}
	wg.Wait()

	b.DetachClient(clientConn(b))
}

// clientConn devuelve la única conexión registrada en el hub.
func clientConn(b *Bridge) *websocket.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		return c
	}
	return nil
}

func TestForwardViaCoreOnlyForDeliverableEvents(t *testing.T) {
	b, core := newBridge(t)

	var forwarded []string
	b.RegisterHandler("spy", "ok", 0, func(ev *sdk.Event) { forwarded = append(forwarded, ev.Type) })
	b.RegisterHandler("spy", "dropped", 0, func(ev *sdk.Event) { forwarded = append(forwarded, ev.Type) })

	core.Use(func(ev *sdk.Event, next func() error) error {
		if ev.Type == "dropped" {
			ev.Cancel()
			return nil
		}
		return next()
	})

	core.Publish("ok", nil, "test", nil)
	core.Publish("dropped", nil, "test", nil)

	assert.Equal(t, []string{"ok"}, forwarded)
}
