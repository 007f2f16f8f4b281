// Package session implements the Session Coordinator: the engine's public
// surface for one order conversation.
//
// The coordinator is an explicit, constructible instance with a process-local
// open/close lifecycle; two coordinators (or two opens of the same one) never
// share hidden mutable state. Internally it runs an actor loop whose pure
// reducer owns every state transition, so connection lifecycle, timeline
// merging, and debounce behavior are all unit testable without a network.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nlanhduy/online-auction-chat/internal/actor"
	"github.com/nlanhduy/online-auction-chat/internal/auth"
	"github.com/nlanhduy/online-auction-chat/internal/logging"
	"github.com/nlanhduy/online-auction-chat/internal/wire"
)

const defaultPageSize = 20

// Config configures a Coordinator.
type Config struct {
	// ServerURL is the realtime channel endpoint.
	ServerURL string
	// APIBaseURL is the REST history endpoint. Defaults to ServerURL.
	APIBaseURL string
	// PageSize is the history page size. Defaults to 20.
	PageSize int

	Logger *zap.SugaredLogger

	// OnUpdate, when set, is invoked with a fresh snapshot after every state
	// transition. Callbacks run on the actor loop and must return quickly.
	OnUpdate func(Snapshot)

	// Test seams; nil means production implementations.
	Dial       DialFunc
	NewHistory HistoryFactory
	Clock      actor.Clock
}

// Snapshot is the read-only view of one session handed to the caller. The
// contained slices are copies; mutating them never affects engine state.
type Snapshot struct {
	State       ConnState
	Messages    []wire.Message
	UnreadCount int
	IsConnected bool
	IsLoading   bool
	HasMore     bool
	TypingUsers []wire.TypingUser
	Err         string
}

// Coordinator wires the channel transport, history fetcher, timeline store,
// and presence tracker together for one order conversation at a time.
type Coordinator struct {
	log *zap.SugaredLogger
	rt  *Runtime
	act *actor.Actor[State]
}

// New builds a Coordinator. Call Open to start a conversation and Shutdown
// when the coordinator itself is no longer needed.
func New(cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	apiURL := cfg.APIBaseURL
	if apiURL == "" {
		apiURL = cfg.ServerURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	rt := NewRuntime(cfg.ServerURL, apiURL, pageSize, cfg.Clock, log, cfg.Dial, cfg.NewHistory)

	var opts []actor.Option[State]
	if cfg.OnUpdate != nil {
		onUpdate := cfg.OnUpdate
		opts = append(opts, actor.WithHooks(actor.Hooks[State]{
			OnTransition: func(prev, next State, input actor.Input) {
				onUpdate(snapshotOf(next))
			},
		}))
	}

	act := actor.New(NewState(), Reduce, rt, opts...)
	act.Start()

	return &Coordinator{log: log, rt: rt, act: act}
}

// Open starts a session for the given order using the supplied bearer
// credential. An already expired credential fails fast with ErrAuthExpired
// before any dial. Opening while another order is open closes it first.
func (c *Coordinator) Open(ctx context.Context, orderID, token string) error {
	if orderID == "" {
		return fmt.Errorf("empty order id")
	}
	cred, err := auth.NewCredential(token)
	if err != nil {
		return err
	}
	if cred.Expired(time.Now()) {
		return ErrAuthExpired
	}

	reply := make(chan error, 1)
	if !c.act.Enqueue(cmdOpen{OrderID: orderID, Token: cred.Token, SelfID: cred.UserID(), Reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the current session: listeners unsubscribed, debounce
// timer canceled, physical connection released. Idempotent; the coordinator
// can be re-opened afterwards.
func (c *Coordinator) Close() error {
	reply := make(chan error, 1)
	if !c.act.Enqueue(cmdClose{Reply: reply}) {
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-c.act.Done():
		return nil
	}
}

// Shutdown closes the session and stops the actor loop. The coordinator is
// unusable afterwards.
func (c *Coordinator) Shutdown() {
	_ = c.Close()
	c.act.Stop()
}

// SendMessage emits one message and resolves with the authoritative message
// from the backend ack. Empty content and non-connected states are rejected
// locally without any transport round trip. Failed sends are never retried
// here; the caller decides (typically by restoring the draft).
func (c *Coordinator) SendMessage(ctx context.Context, content string) (wire.Message, error) {
	reply := make(chan SendResult, 1)
	cmd := cmdSend{LocalID: uuid.NewString(), Content: content, Reply: reply}
	if !c.act.Enqueue(cmd) {
		return wire.Message{}, ErrClosed
	}
	select {
	case res := <-reply:
		return res.Message, res.Err
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	}
}

// MarkAsRead resets the unread counter and acknowledges read state: over the
// live channel when connected, over REST otherwise.
func (c *Coordinator) MarkAsRead() error {
	reply := make(chan error, 1)
	if !c.act.Enqueue(cmdMarkRead{Reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.act.Done():
		return ErrClosed
	}
}

// LoadMore requests the next older history page. A call while no further
// pages exist or while a fetch is already in flight is a no-op.
func (c *Coordinator) LoadMore() error {
	if !c.act.Enqueue(cmdLoadMore{}) {
		return ErrClosed
	}
	return nil
}

// HandleTyping signals a local keystroke: typing-start is emitted
// immediately and the single typing-stop debounce timer is re-armed.
func (c *Coordinator) HandleTyping() {
	_ = c.act.Enqueue(cmdTyping{})
}

// Reconnect manually re-dials after a terminal connect failure. Valid in any
// non-connected state.
func (c *Coordinator) Reconnect() error {
	reply := make(chan error, 1)
	if !c.act.Enqueue(cmdReconnect{Reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.act.Done():
		return ErrClosed
	}
}

// Snapshot returns the current read-only view of the session.
func (c *Coordinator) Snapshot() Snapshot {
	return snapshotOf(c.act.State())
}

func snapshotOf(s State) Snapshot {
	snap := Snapshot{
		State:       s.Conn,
		UnreadCount: s.UnreadCount,
		IsConnected: s.Conn == ConnConnected,
		IsLoading:   s.Loading,
		HasMore:     s.HasMore,
		Err:         s.LastError,
	}
	if s.Timeline != nil {
		snap.Messages = s.Timeline.Messages()
	}
	if s.Typing != nil {
		snap.TypingUsers = s.Typing.List()
	}
	return snap
}
