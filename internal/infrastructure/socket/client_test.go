package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"peerchat/internal/core/domain"
	"peerchat/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// testServer accepts one websocket connection at a time and records every
// envelope the client writes.
type testServer struct {
	*httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []Envelope
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()

		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			ts.mu.Lock()
			ts.received = append(ts.received, env)
			ts.mu.Unlock()
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) send(t *testing.T, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	ts.mu.Lock()
	conn := ts.conns[len(ts.conns)-1]
	ts.mu.Unlock()
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Payload: raw}))
}

func (ts *testServer) envelopes() []Envelope {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]Envelope(nil), ts.received...)
}

func (ts *testServer) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.conns)
}

func newTestClient(t *testing.T, ts *testServer) *Client {
	t.Helper()
	client := NewClient(Options{
		URL: ts.wsURL(),
		Backoff: retry.Backoff{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			Multiplier:   2.0,
		},
	}, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestEventsAreDispatchedInReceiptOrder(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)

	var mu sync.Mutex
	var got []string
	client.Subscribe("new-message", func(raw json.RawMessage) {
		var payload struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &payload))
		mu.Lock()
		got = append(got, payload.ID)
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background()))

	for _, id := range []string{"m1", "m2", "m3"} {
		ts.send(t, "new-message", map[string]string{"id": id})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
}

func TestEmitWrapsPayloadInEnvelope(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)
	require.NoError(t, client.Connect(context.Background()))

	require.NoError(t, client.Emit("typing", domain.TypingCmd{
		ReceiverID: "bob", TabType: domain.ConversationUser, Typing: true,
	}))

	require.Eventually(t, func() bool {
		return len(ts.envelopes()) == 1
	}, time.Second, 5*time.Millisecond)

	env := ts.envelopes()[0]
	assert.Equal(t, "typing", env.Event)
	var cmd domain.TypingCmd
	require.NoError(t, json.Unmarshal(env.Payload, &cmd))
	assert.Equal(t, domain.UserID("bob"), cmd.ReceiverID)
	assert.True(t, cmd.Typing)
}

func TestEmitWithoutConnection(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)

	assert.ErrorIs(t, client.Emit("typing", struct{}{}), domain.ErrNoTransport)
}

func TestDisconnectFiresHookAndReconnects(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)

	var dropped sync.WaitGroup
	dropped.Add(1)
	var once sync.Once
	client.OnDisconnect(func() {
		once.Do(dropped.Done)
	})

	require.NoError(t, client.Connect(context.Background()))
	require.Eventually(t, func() bool { return ts.connCount() == 1 }, time.Second, 5*time.Millisecond)

	ts.mu.Lock()
	ts.conns[0].Close()
	ts.mu.Unlock()

	dropped.Wait()
	require.Eventually(t, func() bool { return ts.connCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	// the new connection carries traffic again
	require.Eventually(t, func() bool {
		return client.Emit("typing", domain.TypingCmd{ReceiverID: "bob"}) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestEmitAfterCloseFails(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())

	assert.ErrorIs(t, client.Emit("typing", struct{}{}), domain.ErrChannelClosed)
}
