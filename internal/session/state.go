package session

import (
	"github.com/nlanhduy/online-auction-chat/internal/presence"
	"github.com/nlanhduy/online-auction-chat/internal/timeline"
	"github.com/nlanhduy/online-auction-chat/internal/wire"
)

// ConnState is the connection lifecycle state of one session. Exactly one
// value holds at any time; it is the single source of truth for whether
// send/typing operations are permitted.
type ConnState string

const (
	// ConnDisconnected means no session is open (initial state, after close,
	// or after the transport retry ceiling was reached).
	ConnDisconnected ConnState = "Disconnected"
	// ConnConnecting means a dial is in progress.
	ConnConnecting ConnState = "Connecting"
	// ConnConnected means the channel is live and the room has been joined or
	// is being joined.
	ConnConnected ConnState = "Connected"
	// ConnReconnecting means the transport lost the connection and is
	// retrying.
	ConnReconnecting ConnState = "Reconnecting"
	// ConnAuthExpired means the backend rejected the credential. Terminal for
	// this session; the caller must supply a fresh credential and re-open.
	ConnAuthExpired ConnState = "AuthExpired"
)

const (
	typingStopTimerName = "typing-stop"
	typingStopAfterMs   = 2000
)

// pendingSend is an optimistic send awaiting its acknowledgement. It exists
// only between submission and ack; on failure the caller gets the error back
// and can restore the draft.
type pendingSend struct {
	Content string
	Reply   chan SendResult
}

// SendResult resolves one sendMessage round trip.
type SendResult struct {
	Message wire.Message
	Err     error
}

// State is the loop-owned state of the Session Coordinator.
type State struct {
	Conn ConnState

	OrderID string
	Token   string
	// SelfID is the local user's id from the credential subject. It steers
	// unread counting and read-receipt direction.
	SelfID string

	// Epoch increments on every open/close/reconnect cycle. Events emitted by
	// the runtime carry the epoch they belong to; stale events are discarded
	// instead of being applied to a torn-down session.
	Epoch int64

	// Pagination cursor. Page is 1-based and only advances when a fetch
	// succeeds, so a failed load-more is safe to retry.
	Page    int
	HasMore bool

	// FetchInFlight is set while a load-more (older page) fetch is pending.
	FetchInFlight bool
	// InitialFetchInFlight is set while the page-1 fetch issued after a join
	// or rejoin is pending. Load-more is held off until it resolves so at
	// most one history fetch is ever in flight.
	InitialFetchInFlight bool
	// Loading is true while the initial history load for this session is in
	// flight.
	Loading bool
	// Seeded is true once the first history page has been applied; later
	// page-1 fetches (rejoin) merge instead of replacing.
	Seeded bool

	UnreadCount int

	// TypingArmed is true while the local typing-stop debounce timer is
	// armed.
	TypingArmed bool

	// LastError is the passively displayed transport/auth error, empty when
	// healthy. Operation errors do not land here; they go to their caller.
	LastError string

	PendingSends map[string]pendingSend

	Timeline *timeline.Store
	Typing   *presence.Tracker
}

// NewState returns the initial coordinator state.
func NewState() State {
	return State{
		Conn:         ConnDisconnected,
		PendingSends: make(map[string]pendingSend),
		Timeline:     timeline.NewStore(),
		Typing:       presence.NewTracker(),
	}
}
