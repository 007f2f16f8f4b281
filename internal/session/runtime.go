package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nlanhduy/online-auction-chat/internal/actor"
	"github.com/nlanhduy/online-auction-chat/internal/history"
	"github.com/nlanhduy/online-auction-chat/internal/logging"
	"github.com/nlanhduy/online-auction-chat/internal/transport"
	"github.com/nlanhduy/online-auction-chat/internal/wire"
)

// ChannelClient is the slice of the transport client the runtime needs.
// Satisfied by *transport.Client; faked in tests.
type ChannelClient interface {
	OnConnect(fn func())
	OnDisconnect(fn func(reason string))
	OnConnectFailed(fn func(err error))
	OnAuthError(fn func(wire.AuthError))
	OnInbound(event string, handler func(map[string]any))
	Connect() error
	Emit(event string, payload map[string]any) error
	EmitWithAck(event string, payload map[string]any) (map[string]any, error)
	IsConnected() bool
	Close()
}

// HistoryClient is the slice of the REST client the runtime needs.
// Satisfied by *history.Client; faked in tests.
type HistoryClient interface {
	FetchPage(ctx context.Context, orderID string, page, pageSize int) (wire.HistoryPage, error)
	MarkRead(ctx context.Context, orderID string) error
	Close() error
}

// DialFunc builds a channel client for one session epoch.
type DialFunc func(serverURL, token, orderID string, log *zap.SugaredLogger) ChannelClient

// HistoryFactory builds a history client bound to one credential.
type HistoryFactory func(apiBaseURL, token string, log *zap.SugaredLogger) HistoryClient

func defaultDial(serverURL, token, orderID string, log *zap.SugaredLogger) ChannelClient {
	return transport.NewClient(serverURL, token, orderID, log)
}

func defaultHistory(apiBaseURL, token string, log *zap.SugaredLogger) HistoryClient {
	return history.NewClient(apiBaseURL, token, log)
}

// Runtime interprets Session Coordinator effects: it owns the transport
// client, the history client, and the named timers.
//
// The runtime never mutates State; it only emits epoch-tagged events back
// into the actor mailbox. All round trips run on their own goroutines so a
// slow fetch or send never stalls typing indicators or live delivery.
type Runtime struct {
	serverURL string
	apiURL    string
	pageSize  int
	clock     actor.Clock
	log       *zap.SugaredLogger

	dial       DialFunc
	newHistory HistoryFactory

	mu          sync.Mutex
	client      ChannelClient
	clientEpoch int64
	hist        HistoryClient
	timers      map[string]*time.Timer
}

// NewRuntime builds a runtime for the given endpoints. dial and newHistory
// may be nil to use the production transport and REST clients.
func NewRuntime(serverURL, apiURL string, pageSize int, clock actor.Clock, log *zap.SugaredLogger, dial DialFunc, newHistory HistoryFactory) *Runtime {
	if log == nil {
		log = logging.Nop()
	}
	if clock == nil {
		clock = actor.RealClock{}
	}
	if dial == nil {
		dial = defaultDial
	}
	if newHistory == nil {
		newHistory = defaultHistory
	}
	return &Runtime{
		serverURL:  serverURL,
		apiURL:     apiURL,
		pageSize:   pageSize,
		clock:      clock,
		log:        log,
		dial:       dial,
		newHistory: newHistory,
		timers:     make(map[string]*time.Timer),
	}
}

// HandleEffects implements actor.Runtime.
func (r *Runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch e := eff.(type) {
		case effConnect:
			r.connect(ctx, e, emit)
		case effDisconnect:
			r.disconnect(e)
		case effJoinRoom:
			r.emitToRoom(e.Epoch, wire.EventJoinOrderChat, map[string]any{"orderId": e.OrderID})
		case effLeaveRoom:
			r.emitToRoom(e.Epoch, wire.EventLeaveOrderChat, map[string]any{"orderId": e.OrderID})
		case effFetchHistory:
			r.fetchHistory(ctx, e, emit)
		case effEmitSend:
			r.emitSend(ctx, e, emit)
		case effEmitMarkRead:
			r.emitToRoom(e.Epoch, wire.EventMarkAsRead, map[string]any{"orderId": e.OrderID})
		case effRestMarkRead:
			r.restMarkRead(ctx, e)
		case effEmitTyping:
			r.emitToRoom(e.Epoch, wire.EventUserTyping, map[string]any{"orderId": e.OrderID, "isTyping": e.IsTyping})
		case effStartTimer:
			r.startTimer(ctx, e, emit)
		case effCancelTimer:
			r.cancelTimer(e)
		default:
			// Unknown effect: ignore.
		}
	}
}

// Stop implements actor.Runtime.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, t := range r.timers {
		t.Stop()
		delete(r.timers, name)
	}
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
	if r.hist != nil {
		_ = r.hist.Close()
		r.hist = nil
	}
}

// connect builds a fresh channel client for the epoch, wires every inbound
// event to an epoch-tagged actor input, and dials asynchronously.
func (r *Runtime) connect(ctx context.Context, eff effConnect, emit func(actor.Input)) {
	epoch := eff.Epoch

	client := r.dial(r.serverURL, eff.Token, eff.OrderID, r.log)

	client.OnConnect(func() {
		emit(evConnected{Epoch: epoch})
	})
	client.OnDisconnect(func(reason string) {
		emit(evDisconnected{Epoch: epoch, Reason: reason})
	})
	client.OnConnectFailed(func(err error) {
		emit(evConnectFailed{Epoch: epoch, Err: err})
	})
	client.OnAuthError(func(authErr wire.AuthError) {
		emit(evAuthExpired{Epoch: epoch, Reason: authErr.Error()})
	})

	client.OnInbound(wire.EventJoinedChat, func(data map[string]any) {
		var payload wire.JoinedChat
		if err := wire.Decode(data, &payload); err != nil {
			r.log.Warnw("bad joined_chat payload", "err", err)
			return
		}
		emit(evJoined{Epoch: epoch, RoomName: payload.RoomName, UnreadCount: payload.UnreadCount})
	})
	client.OnInbound(wire.EventNewMessage, func(data map[string]any) {
		var msg wire.Message
		if err := wire.Decode(data, &msg); err != nil {
			r.log.Warnw("bad new_message payload", "err", err)
			return
		}
		emit(evNewMessage{Epoch: epoch, Msg: msg})
	})
	client.OnInbound(wire.EventUserTyping, func(data map[string]any) {
		var payload wire.TypingEvent
		if err := wire.Decode(data, &payload); err != nil {
			r.log.Warnw("bad user_typing payload", "err", err)
			return
		}
		emit(evTyping{Epoch: epoch, UserID: payload.UserID, FullName: payload.FullName, IsTyping: payload.IsTyping})
	})
	client.OnInbound(wire.EventMessagesRead, func(data map[string]any) {
		var payload wire.MessagesRead
		if err := wire.Decode(data, &payload); err != nil {
			r.log.Warnw("bad messages_read payload", "err", err)
			return
		}
		emit(evMessagesRead{Epoch: epoch, UserID: payload.UserID})
	})

	r.mu.Lock()
	if r.client != nil {
		r.client.Close()
	}
	r.client = client
	r.clientEpoch = epoch
	if r.hist != nil {
		_ = r.hist.Close()
	}
	r.hist = r.newHistory(r.apiURL, eff.Token, r.log)
	r.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := client.Connect(); err != nil {
			emit(evConnectFailed{Epoch: epoch, Err: err})
		}
	}()
}

func (r *Runtime) disconnect(eff effDisconnect) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return
	}
	// Never tear down a connection newer than the one the effect refers to.
	if eff.Epoch != 0 && r.clientEpoch > eff.Epoch {
		return
	}
	r.client.Close()
	r.client = nil
	r.clientEpoch = 0
}

func (r *Runtime) currentClient(epoch int64) ChannelClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil || r.clientEpoch != epoch {
		return nil
	}
	return r.client
}

func (r *Runtime) emitToRoom(epoch int64, event string, payload map[string]any) {
	client := r.currentClient(epoch)
	if client == nil {
		return
	}
	if err := client.Emit(event, payload); err != nil {
		r.log.Debugw("emit dropped", "event", event, "err", err)
	}
}

func (r *Runtime) fetchHistory(ctx context.Context, eff effFetchHistory, emit func(actor.Input)) {
	r.mu.Lock()
	hist := r.hist
	pageSize := r.pageSize
	r.mu.Unlock()

	if hist == nil {
		emit(evHistoryFetchFailed{Epoch: eff.Epoch, Page: eff.Page, Initial: eff.Initial, Err: errors.New("history client not ready")})
		return
	}

	go func() {
		page, err := hist.FetchPage(ctx, eff.OrderID, eff.Page, pageSize)
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err != nil {
			emit(evHistoryFetchFailed{Epoch: eff.Epoch, Page: eff.Page, Initial: eff.Initial, Err: err})
			return
		}
		emit(evHistoryFetched{Epoch: eff.Epoch, Page: eff.Page, Initial: eff.Initial, Msgs: page.Messages, HasMore: page.HasMore})
	}()
}

func (r *Runtime) emitSend(ctx context.Context, eff effEmitSend, emit func(actor.Input)) {
	client := r.currentClient(eff.Epoch)
	if client == nil {
		emit(evSendFailed{Epoch: eff.Epoch, LocalID: eff.LocalID, Err: transport.ErrNotConnected})
		return
	}

	go func() {
		ack, err := client.EmitWithAck(wire.EventSendMessage, map[string]any{
			"orderId": eff.OrderID,
			"content": eff.Content,
		})
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err != nil {
			emit(evSendFailed{Epoch: eff.Epoch, LocalID: eff.LocalID, Err: err})
			return
		}

		var parsed wire.SendAck
		if ack != nil {
			if decodeErr := wire.Decode(ack, &parsed); decodeErr != nil {
				emit(evSendFailed{Epoch: eff.Epoch, LocalID: eff.LocalID, Err: decodeErr})
				return
			}
		}
		if !parsed.Success {
			msg := parsed.Error
			if msg == "" {
				msg = "send rejected"
			}
			emit(evSendFailed{Epoch: eff.Epoch, LocalID: eff.LocalID, Err: errors.New(msg)})
			return
		}
		if parsed.Message == nil {
			emit(evSendFailed{Epoch: eff.Epoch, LocalID: eff.LocalID, Err: errors.New("ack missing message")})
			return
		}
		emit(evSendAcked{Epoch: eff.Epoch, LocalID: eff.LocalID, Msg: *parsed.Message})
	}()
}

func (r *Runtime) restMarkRead(ctx context.Context, eff effRestMarkRead) {
	r.mu.Lock()
	hist := r.hist
	r.mu.Unlock()
	if hist == nil {
		return
	}

	// Fire-and-forget: the unread counter was already reset by the reducer.
	go func() {
		if err := hist.MarkRead(ctx, eff.OrderID); err != nil {
			r.log.Warnw("rest mark-read failed", "orderId", eff.OrderID, "err", err)
		}
	}()
}

func (r *Runtime) startTimer(ctx context.Context, eff effStartTimer, emit func(actor.Input)) {
	if eff.Name == "" || eff.AfterMs <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.timers[eff.Name]; prev != nil {
		prev.Stop()
	}
	after := time.Duration(eff.AfterMs) * time.Millisecond
	r.timers[eff.Name] = time.AfterFunc(after, func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		emit(evTimerFired{Epoch: eff.Epoch, Name: eff.Name, NowMs: r.clock.Now().UnixMilli()})
	})
}

func (r *Runtime) cancelTimer(eff effCancelTimer) {
	if eff.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if t := r.timers[eff.Name]; t != nil {
		t.Stop()
		delete(r.timers, eff.Name)
	}
}
