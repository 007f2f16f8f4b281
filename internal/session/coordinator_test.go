package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nlanhduy/online-auction-chat/internal/actor/actortest"
	"github.com/nlanhduy/online-auction-chat/internal/wire"
)

type fakeEmit struct {
	event   string
	payload map[string]any
}

// fakeChannel stands in for the socket transport: tests fire inbound events
// and inspect what was emitted.
type fakeChannel struct {
	mu sync.Mutex

	onConnect    func()
	onDisconnect func(string)
	onAuthError  func(wire.AuthError)
	inbound      map[string]func(map[string]any)

	connectErr error
	ack        func(event string, payload map[string]any) (map[string]any, error)

	connected bool
	closed    bool
	emits     []fakeEmit
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbound: make(map[string]func(map[string]any))}
}

func (f *fakeChannel) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = fn
}

func (f *fakeChannel) OnDisconnect(fn func(reason string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

func (f *fakeChannel) OnConnectFailed(fn func(err error)) {}

func (f *fakeChannel) OnAuthError(fn func(wire.AuthError)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAuthError = fn
}

func (f *fakeChannel) OnInbound(event string, handler func(map[string]any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound[event] = handler
}

func (f *fakeChannel) Connect() error {
	f.mu.Lock()
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return err
	}
	f.connected = true
	fn := f.onConnect
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (f *fakeChannel) Emit(event string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	f.emits = append(f.emits, fakeEmit{event: event, payload: payload})
	return nil
}

func (f *fakeChannel) EmitWithAck(event string, payload map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.emits = append(f.emits, fakeEmit{event: event, payload: payload})
	ack := f.ack
	f.mu.Unlock()
	if ack == nil {
		return map[string]any{"success": true}, nil
	}
	return ack(event, payload)
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
}

func (f *fakeChannel) setAck(fn func(event string, payload map[string]any) (map[string]any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ack = fn
}

// fire delivers a backend event to the registered inbound handler.
func (f *fakeChannel) fire(event string, data map[string]any) {
	f.mu.Lock()
	h := f.inbound[event]
	f.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// dropConnection simulates the transport losing the connection.
func (f *fakeChannel) dropConnection(reason string) {
	f.mu.Lock()
	f.connected = false
	fn := f.onDisconnect
	f.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// restore simulates the transport's own retry succeeding on the same client.
func (f *fakeChannel) restore() {
	f.mu.Lock()
	f.connected = true
	fn := f.onConnect
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeChannel) failAuth(msg string) {
	f.mu.Lock()
	fn := f.onAuthError
	f.mu.Unlock()
	if fn != nil {
		fn(wire.AuthError{Message: msg})
	}
}

func (f *fakeChannel) emitted(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emits {
		if e.event == event {
			n++
		}
	}
	return n
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeHistory struct {
	mu        sync.Mutex
	pages     map[int]wire.HistoryPage
	fetches   []int
	markReads int
}

func (f *fakeHistory) FetchPage(ctx context.Context, orderID string, page, pageSize int) (wire.HistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, page)
	return f.pages[page], nil
}

func (f *fakeHistory) MarkRead(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReads++
	return nil
}

func (f *fakeHistory) Close() error { return nil }

func (f *fakeHistory) setPage(page int, p wire.HistoryPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[page] = p
}

func (f *fakeHistory) markReadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markReads
}

type fixture struct {
	mu       sync.Mutex
	channels []*fakeChannel
	hist     *fakeHistory
	coord    *Coordinator
}

func newFixture(t *testing.T, hist *fakeHistory) *fixture {
	t.Helper()
	if hist.pages == nil {
		hist.pages = make(map[int]wire.HistoryPage)
	}
	fx := &fixture{hist: hist}
	fx.coord = New(Config{
		ServerURL: "http://chat.test",
		PageSize:  20,
		Dial: func(serverURL, token, orderID string, log *zap.SugaredLogger) ChannelClient {
			ch := newFakeChannel()
			fx.mu.Lock()
			fx.channels = append(fx.channels, ch)
			fx.mu.Unlock()
			return ch
		},
		NewHistory: func(apiBaseURL, token string, log *zap.SugaredLogger) HistoryClient {
			return fx.hist
		},
		Clock: actortest.NewFakeClock(time.Unix(1700000000, 0)),
	})
	t.Cleanup(fx.coord.Shutdown)
	return fx
}

func (fx *fixture) channel(i int) *fakeChannel {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if i >= len(fx.channels) {
		return nil
	}
	return fx.channels[i]
}

func (fx *fixture) dials() int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return len(fx.channels)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sessionToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

// openSession opens ord-1 as user "me" and waits for the dial and the room
// join.
func openSession(t *testing.T, fx *fixture) *fakeChannel {
	t.Helper()
	token := sessionToken(t, "me", time.Now().Add(time.Hour))
	require.NoError(t, fx.coord.Open(context.Background(), "ord-1", token))

	var ch *fakeChannel
	waitFor(t, "dial and connect", func() bool {
		ch = fx.channel(0)
		return ch != nil && ch.IsConnected()
	})
	waitFor(t, "room join", func() bool { return ch.emitted(wire.EventJoinOrderChat) >= 1 })
	return ch
}

func histMsg(id, senderID string, at int64) map[string]any {
	return map[string]any{
		"id":        id,
		"orderId":   "ord-1",
		"senderId":  senderID,
		"content":   "msg " + id,
		"createdAt": time.Unix(at, 0).UTC().Format(time.RFC3339),
	}
}

func TestCoordinatorOpenJoinsAndSeedsHistory(t *testing.T) {
	hist := &fakeHistory{pages: map[int]wire.HistoryPage{
		1: {
			Messages: []wire.Message{liveMsg("m1", "them", 10), liveMsg("m2", "me", 20)},
			HasMore:  true,
		},
	}}
	fx := newFixture(t, hist)
	ch := openSession(t, fx)

	ch.fire(wire.EventJoinedChat, map[string]any{"roomName": "order_ord-1", "unreadCount": 2})
	waitFor(t, "initial history", func() bool { return len(fx.coord.Snapshot().Messages) == 2 })

	snap := fx.coord.Snapshot()
	require.Equal(t, ConnConnected, snap.State)
	require.True(t, snap.IsConnected)
	require.Equal(t, 2, snap.UnreadCount)
	require.True(t, snap.HasMore)
	require.Equal(t, "m1", snap.Messages[0].ID)

	// Live delivery appends and bumps the unread counter.
	ch.fire(wire.EventNewMessage, histMsg("m3", "them", 30))
	waitFor(t, "live message", func() bool { return fx.coord.Snapshot().UnreadCount == 3 })
	require.Len(t, fx.coord.Snapshot().Messages, 3)

	require.NoError(t, fx.coord.MarkAsRead())
	waitFor(t, "mark-as-read emit", func() bool { return ch.emitted(wire.EventMarkAsRead) == 1 })
	require.Equal(t, 0, fx.coord.Snapshot().UnreadCount)

	require.NoError(t, fx.coord.Close())
	waitFor(t, "connection released", func() bool { return ch.isClosed() })
	require.Equal(t, 1, ch.emitted(wire.EventLeaveOrderChat))
}

func TestCoordinatorSendMessageResolvesWithAck(t *testing.T) {
	fx := newFixture(t, &fakeHistory{pages: map[int]wire.HistoryPage{1: {}}})
	ch := openSession(t, fx)
	ch.fire(wire.EventJoinedChat, map[string]any{"roomName": "order_ord-1", "unreadCount": 0})

	ch.setAck(func(event string, payload map[string]any) (map[string]any, error) {
		require.Equal(t, wire.EventSendMessage, event)
		require.Equal(t, "ord-1", payload["orderId"])
		return map[string]any{
			"success": true,
			"message": histMsg("m-9", "me", 100),
		}, nil
	})

	msg, err := fx.coord.SendMessage(context.Background(), "offer $50")
	require.NoError(t, err)
	require.Equal(t, "m-9", msg.ID)

	waitFor(t, "acked message in timeline", func() bool { return len(fx.coord.Snapshot().Messages) == 1 })
	require.Equal(t, 0, fx.coord.Snapshot().UnreadCount)
}

func TestCoordinatorSendMessageRejectedByBackend(t *testing.T) {
	fx := newFixture(t, &fakeHistory{pages: map[int]wire.HistoryPage{1: {}}})
	ch := openSession(t, fx)
	ch.fire(wire.EventJoinedChat, map[string]any{"roomName": "order_ord-1", "unreadCount": 0})

	ch.setAck(func(event string, payload map[string]any) (map[string]any, error) {
		return map[string]any{"success": false, "error": "rate limited"}, nil
	})

	_, err := fx.coord.SendMessage(context.Background(), "spam")
	require.EqualError(t, err, "rate limited")
	require.Empty(t, fx.coord.Snapshot().Messages)
}

func TestCoordinatorServerDisconnectRedialsAndMerges(t *testing.T) {
	hist := &fakeHistory{pages: map[int]wire.HistoryPage{
		1: {Messages: []wire.Message{liveMsg("m1", "them", 10)}},
	}}
	fx := newFixture(t, hist)
	ch := openSession(t, fx)
	ch.fire(wire.EventJoinedChat, map[string]any{"roomName": "order_ord-1", "unreadCount": 0})
	waitFor(t, "initial history", func() bool { return len(fx.coord.Snapshot().Messages) == 1 })

	// A message lands server-side while we are being hung up on.
	hist.setPage(1, wire.HistoryPage{
		Messages: []wire.Message{liveMsg("m1", "them", 10), liveMsg("m2", "them", 20)},
	})
	ch.dropConnection("io server disconnect")

	var ch2 *fakeChannel
	waitFor(t, "re-dial", func() bool {
		ch2 = fx.channel(1)
		return ch2 != nil && ch2.IsConnected()
	})
	waitFor(t, "re-join", func() bool { return ch2.emitted(wire.EventJoinOrderChat) >= 1 })

	ch2.fire(wire.EventJoinedChat, map[string]any{"roomName": "order_ord-1", "unreadCount": 1})
	waitFor(t, "merged history", func() bool { return len(fx.coord.Snapshot().Messages) == 2 })

	snap := fx.coord.Snapshot()
	require.Equal(t, ConnConnected, snap.State)
	require.Equal(t, "m1", snap.Messages[0].ID)
	require.Equal(t, "m2", snap.Messages[1].ID)
}

func TestCoordinatorTransientDisconnectRecoversOnSameClient(t *testing.T) {
	fx := newFixture(t, &fakeHistory{pages: map[int]wire.HistoryPage{1: {}}})
	ch := openSession(t, fx)
	ch.fire(wire.EventJoinedChat, map[string]any{"roomName": "order_ord-1", "unreadCount": 0})

	ch.dropConnection("transport close")
	waitFor(t, "reconnecting state", func() bool { return fx.coord.Snapshot().State == ConnReconnecting })
	require.Equal(t, 1, fx.dials())

	// Reads while the channel is down go over REST.
	require.NoError(t, fx.coord.MarkAsRead())
	waitFor(t, "rest mark-read", func() bool { return fx.hist.markReadCount() == 1 })

	// The transport's own retry succeeds; the session re-joins the room.
	ch.restore()
	waitFor(t, "re-join after restore", func() bool { return ch.emitted(wire.EventJoinOrderChat) >= 2 })
	require.Equal(t, 1, fx.dials())
}

func TestCoordinatorAuthExpiredIsTerminal(t *testing.T) {
	fx := newFixture(t, &fakeHistory{})
	ch := openSession(t, fx)

	ch.failAuth("jwt expired")
	waitFor(t, "auth-expired state", func() bool { return fx.coord.Snapshot().State == ConnAuthExpired })

	_, err := fx.coord.SendMessage(context.Background(), "hello?")
	require.ErrorIs(t, err, ErrNotConnected)
	require.Contains(t, fx.coord.Snapshot().Err, "auth rejected")
	require.Equal(t, 1, fx.dials())
}

func TestCoordinatorOpenRejectsExpiredCredential(t *testing.T) {
	fx := newFixture(t, &fakeHistory{})

	token := sessionToken(t, "me", time.Now().Add(-time.Hour))
	err := fx.coord.Open(context.Background(), "ord-1", token)
	require.ErrorIs(t, err, ErrAuthExpired)
	require.Equal(t, 0, fx.dials())
}

func TestCoordinatorReplyCallsReturnWhenStoppedBeforeDequeue(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once

	coord := New(Config{
		ServerURL: "http://chat.test",
		Dial: func(serverURL, token, orderID string, log *zap.SugaredLogger) ChannelClient {
			return newFakeChannel()
		},
		NewHistory: func(apiBaseURL, token string, log *zap.SugaredLogger) HistoryClient {
			return &fakeHistory{pages: make(map[int]wire.HistoryPage)}
		},
		OnUpdate: func(Snapshot) {
			once.Do(func() { close(entered) })
			<-gate
		},
	})

	// Park the loop inside the transition hook so the next commands stay
	// queued.
	coord.HandleTyping()
	<-entered

	markDone := make(chan error, 1)
	reconnDone := make(chan error, 1)
	go func() { markDone <- coord.MarkAsRead() }()
	go func() { reconnDone <- coord.Reconnect() }()

	// Let both commands land in the mailbox, then stop the actor while they
	// are still pending.
	time.Sleep(50 * time.Millisecond)
	coord.act.Stop()
	close(gate)

	for name, ch := range map[string]chan error{"MarkAsRead": markDone, "Reconnect": reconnDone} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not return after the actor stopped", name)
		}
	}
}

func TestCoordinatorLoadMorePrependsOlderPage(t *testing.T) {
	hist := &fakeHistory{pages: map[int]wire.HistoryPage{
		1: {Messages: []wire.Message{liveMsg("m3", "them", 30)}, HasMore: true},
		2: {Messages: []wire.Message{liveMsg("m1", "them", 10), liveMsg("m2", "me", 20)}},
	}}
	fx := newFixture(t, hist)
	ch := openSession(t, fx)
	ch.fire(wire.EventJoinedChat, map[string]any{"roomName": "order_ord-1", "unreadCount": 0})
	waitFor(t, "initial history", func() bool { return len(fx.coord.Snapshot().Messages) == 1 })

	require.NoError(t, fx.coord.LoadMore())
	waitFor(t, "older page", func() bool { return len(fx.coord.Snapshot().Messages) == 3 })

	snap := fx.coord.Snapshot()
	require.False(t, snap.HasMore)
	require.Equal(t, []string{"m1", "m2", "m3"}, []string{snap.Messages[0].ID, snap.Messages[1].ID, snap.Messages[2].ID})
}
