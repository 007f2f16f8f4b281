package session

import (
	"strings"

	"github.com/nlanhduy/online-auction-chat/internal/actor"
	"github.com/nlanhduy/online-auction-chat/internal/presence"
	"github.com/nlanhduy/online-auction-chat/internal/timeline"
)

// serverDisconnectReason is the transport reason for a server-initiated
// disconnect. The transport does not auto-retry these, so the reducer
// re-dials immediately instead of waiting.
const serverDisconnectReason = "io server disconnect"

// Reduce is the Session Coordinator reducer: a pure transition function over
// (state, input). All connection lifecycle, timeline merging, unread
// counting, and debounce decisions are made here; the runtime only executes
// the returned effects.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdOpen:
		return reduceOpen(state, in)
	case cmdClose:
		return reduceClose(state, in)
	case cmdReconnect:
		return reduceReconnect(state, in)
	case cmdSend:
		return reduceSend(state, in)
	case cmdMarkRead:
		return reduceMarkRead(state, in)
	case cmdLoadMore:
		return reduceLoadMore(state)
	case cmdTyping:
		return reduceTyping(state)

	case evConnected:
		return reduceConnected(state, in)
	case evDisconnected:
		return reduceDisconnected(state, in)
	case evConnectFailed:
		return reduceConnectFailed(state, in)
	case evAuthExpired:
		return reduceAuthExpired(state, in)
	case evJoined:
		return reduceJoined(state, in)
	case evNewMessage:
		return reduceNewMessage(state, in)
	case evTyping:
		return reduceTypingEvent(state, in)
	case evMessagesRead:
		return reduceMessagesRead(state, in)
	case evHistoryFetched:
		return reduceHistoryFetched(state, in)
	case evHistoryFetchFailed:
		return reduceHistoryFetchFailed(state, in)
	case evSendAcked:
		return reduceSendAcked(state, in)
	case evSendFailed:
		return reduceSendFailed(state, in)
	case evTimerFired:
		return reduceTimerFired(state, in)
	default:
		return state, nil
	}
}

func reduceOpen(state State, cmd cmdOpen) (State, []actor.Effect) {
	var effects []actor.Effect

	// Only one physical connection per coordinator instance: opening a new
	// order tears down whatever is currently open.
	if state.Conn != ConnDisconnected {
		effects = append(effects, teardownEffects(state)...)
		state = failPendingSends(state, ErrClosed)
	}

	state.Epoch++
	state.OrderID = cmd.OrderID
	state.Token = cmd.Token
	state.SelfID = cmd.SelfID
	state.Conn = ConnConnecting
	state.Page = 0
	state.HasMore = false
	state.FetchInFlight = false
	state.InitialFetchInFlight = false
	state.Loading = false
	state.Seeded = false
	state.UnreadCount = 0
	state.TypingArmed = false
	state.LastError = ""
	state.Timeline = timeline.NewStore()
	state.Typing = presence.NewTracker()

	effects = append(effects, effConnect{Epoch: state.Epoch, OrderID: cmd.OrderID, Token: cmd.Token})
	replyErr(cmd.Reply, nil)
	return state, effects
}

func reduceClose(state State, cmd cmdClose) (State, []actor.Effect) {
	// Idempotent: closing a closed session only bumps the epoch so any
	// straggling events are discarded.
	effects := teardownEffects(state)
	state = failPendingSends(state, ErrClosed)

	state.Epoch++
	state.Conn = ConnDisconnected
	state.FetchInFlight = false
	state.InitialFetchInFlight = false
	state.Loading = false
	state.TypingArmed = false
	state.LastError = ""
	if state.Typing != nil {
		state.Typing.Reset()
	}

	replyErr(cmd.Reply, nil)
	return state, effects
}

func reduceReconnect(state State, cmd cmdReconnect) (State, []actor.Effect) {
	if state.Conn == ConnConnected {
		replyErr(cmd.Reply, ErrAlreadyConnected)
		return state, nil
	}
	if state.OrderID == "" {
		replyErr(cmd.Reply, ErrNotOpened)
		return state, nil
	}

	oldEpoch := state.Epoch
	state.Epoch++
	state.Conn = ConnConnecting
	state.LastError = ""

	replyErr(cmd.Reply, nil)
	return state, []actor.Effect{
		effDisconnect{Epoch: oldEpoch},
		effConnect{Epoch: state.Epoch, OrderID: state.OrderID, Token: state.Token},
	}
}

func reduceSend(state State, cmd cmdSend) (State, []actor.Effect) {
	if strings.TrimSpace(cmd.Content) == "" {
		replySend(cmd.Reply, SendResult{Err: ErrEmptyMessage})
		return state, nil
	}
	if state.Conn != ConnConnected {
		replySend(cmd.Reply, SendResult{Err: ErrNotConnected})
		return state, nil
	}

	state.PendingSends[cmd.LocalID] = pendingSend{Content: cmd.Content, Reply: cmd.Reply}
	return state, []actor.Effect{effEmitSend{
		Epoch:   state.Epoch,
		OrderID: state.OrderID,
		LocalID: cmd.LocalID,
		Content: cmd.Content,
	}}
}

func reduceSendAcked(state State, ev evSendAcked) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	p, ok := state.PendingSends[ev.LocalID]
	if !ok {
		return state, nil
	}
	delete(state.PendingSends, ev.LocalID)

	// The same message also arrives through the live stream; dedup by id
	// keeps a single visible entry either way.
	state.Timeline.AppendLive(ev.Msg)
	replySend(p.Reply, SendResult{Message: ev.Msg})
	return state, nil
}

func reduceSendFailed(state State, ev evSendFailed) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	p, ok := state.PendingSends[ev.LocalID]
	if !ok {
		return state, nil
	}
	delete(state.PendingSends, ev.LocalID)

	// At-most-one-attempt: the error goes back to the caller, nothing is
	// added to the timeline, and no retry is scheduled.
	replySend(p.Reply, SendResult{Err: ev.Err})
	return state, nil
}

func reduceMarkRead(state State, cmd cmdMarkRead) (State, []actor.Effect) {
	state.UnreadCount = 0

	var eff actor.Effect
	if state.Conn == ConnConnected {
		eff = effEmitMarkRead{Epoch: state.Epoch, OrderID: state.OrderID}
	} else {
		// Channel is down: fall back to REST so read state is not lost.
		eff = effRestMarkRead{Epoch: state.Epoch, OrderID: state.OrderID}
	}
	replyErr(cmd.Reply, nil)
	return state, []actor.Effect{eff}
}

func reduceLoadMore(state State) (State, []actor.Effect) {
	if !state.HasMore || state.FetchInFlight || state.InitialFetchInFlight {
		return state, nil
	}
	state.FetchInFlight = true
	// The cursor itself only advances when the fetch succeeds.
	return state, []actor.Effect{effFetchHistory{
		Epoch:   state.Epoch,
		OrderID: state.OrderID,
		Page:    state.Page + 1,
	}}
}

func reduceTyping(state State) (State, []actor.Effect) {
	if state.Conn != ConnConnected {
		return state, nil
	}
	// Emit the start immediately; re-arm the single stop timer so only the
	// most recent call is honored.
	state.TypingArmed = true
	return state, []actor.Effect{
		effEmitTyping{Epoch: state.Epoch, OrderID: state.OrderID, IsTyping: true},
		effCancelTimer{Name: typingStopTimerName},
		effStartTimer{Epoch: state.Epoch, Name: typingStopTimerName, AfterMs: typingStopAfterMs},
	}
}

func reduceTimerFired(state State, ev evTimerFired) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	switch ev.Name {
	case typingStopTimerName:
		if !state.TypingArmed {
			return state, nil
		}
		state.TypingArmed = false
		if state.Conn != ConnConnected {
			return state, nil
		}
		return state, []actor.Effect{effEmitTyping{Epoch: state.Epoch, OrderID: state.OrderID, IsTyping: false}}
	default:
		return state, nil
	}
}

func reduceConnected(state State, ev evConnected) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	state.Conn = ConnConnected
	state.LastError = ""
	return state, []actor.Effect{effJoinRoom{Epoch: state.Epoch, OrderID: state.OrderID}}
}

func reduceJoined(state State, ev evJoined) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	state.UnreadCount = ev.UnreadCount
	state.InitialFetchInFlight = true
	state.Loading = !state.Seeded
	return state, []actor.Effect{effFetchHistory{
		Epoch:   state.Epoch,
		OrderID: state.OrderID,
		Page:    1,
		Initial: true,
	}}
}

func reduceHistoryFetched(state State, ev evHistoryFetched) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	state.Loading = false

	if ev.Initial {
		state.InitialFetchInFlight = false
		if !state.Seeded {
			state.Timeline.Seed(ev.Msgs)
			state.Seeded = true
			state.Page = 1
			state.HasMore = ev.HasMore
			return state, nil
		}
		// Rejoin reseed: merge the fresh page so nothing already loaded is
		// lost, and leave the cursor where the user scrolled it.
		state.Timeline.MergeRecent(ev.Msgs)
		if state.Page <= 1 {
			state.Page = 1
			state.HasMore = ev.HasMore
		}
		return state, nil
	}

	state.FetchInFlight = false
	state.Timeline.PrependOlder(ev.Msgs)
	state.Page = ev.Page
	state.HasMore = ev.HasMore
	return state, nil
}

func reduceHistoryFetchFailed(state State, ev evHistoryFetchFailed) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	if ev.Initial {
		state.InitialFetchInFlight = false
	} else {
		state.FetchInFlight = false
	}
	state.Loading = false
	// Cursor untouched: a retry of the same page is safe and idempotent.
	if ev.Err != nil {
		state.LastError = ev.Err.Error()
	}
	return state, nil
}

func reduceNewMessage(state State, ev evNewMessage) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	added := state.Timeline.AppendLive(ev.Msg)
	if added && ev.Msg.SenderID != state.SelfID {
		state.UnreadCount++
	}
	return state, nil
}

func reduceTypingEvent(state State, ev evTyping) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	if ev.UserID == "" || ev.UserID == state.SelfID {
		return state, nil
	}
	if ev.IsTyping {
		state.Typing.SetTyping(ev.UserID, ev.FullName)
	} else {
		state.Typing.ClearTyping(ev.UserID)
	}
	return state, nil
}

func reduceMessagesRead(state State, ev evMessagesRead) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	if ev.UserID == state.SelfID {
		// Another device of ours read the conversation; only the counter
		// moves.
		state.UnreadCount = 0
		return state, nil
	}
	// The counterparty read the conversation: our own sent messages are now
	// read.
	state.Timeline.MarkSenderRead(state.SelfID)
	return state, nil
}

func reduceDisconnected(state State, ev evDisconnected) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	if state.Conn == ConnDisconnected || state.Conn == ConnAuthExpired {
		return state, nil
	}

	if ev.Reason == serverDisconnectReason {
		// The server hung up; the transport will not retry on its own, so
		// re-open immediately under a fresh epoch.
		oldEpoch := state.Epoch
		state.Epoch++
		state.Conn = ConnReconnecting
		return state, []actor.Effect{
			effDisconnect{Epoch: oldEpoch},
			effConnect{Epoch: state.Epoch, OrderID: state.OrderID, Token: state.Token},
		}
	}

	// Transient loss: the transport keeps retrying under the same epoch and
	// will emit a fresh connected event when it succeeds.
	state.Conn = ConnReconnecting
	return state, nil
}

func reduceConnectFailed(state State, ev evConnectFailed) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}
	state.Conn = ConnDisconnected
	if ev.Err != nil {
		state.LastError = ev.Err.Error()
	}
	return state, nil
}

func reduceAuthExpired(state State, ev evAuthExpired) (State, []actor.Effect) {
	if ev.Epoch != state.Epoch {
		return state, nil
	}

	effects := teardownEffects(state)
	state = failPendingSends(state, ErrAuthExpired)

	state.Conn = ConnAuthExpired
	state.TypingArmed = false
	if ev.Reason != "" {
		state.LastError = ev.Reason
	} else {
		state.LastError = ErrAuthExpired.Error()
	}
	return state, effects
}

// teardownEffects produces the effects that release the live channel: cancel
// the debounce timer, leave the room when still connected, and drop the
// physical connection.
func teardownEffects(state State) []actor.Effect {
	effects := []actor.Effect{effCancelTimer{Name: typingStopTimerName}}
	if state.Conn == ConnConnected {
		effects = append(effects, effLeaveRoom{Epoch: state.Epoch, OrderID: state.OrderID})
	}
	if state.Conn != ConnDisconnected {
		effects = append(effects, effDisconnect{Epoch: state.Epoch})
	}
	return effects
}

// failPendingSends rejects every in-flight send with err and clears the
// table.
func failPendingSends(state State, err error) State {
	for id, p := range state.PendingSends {
		replySend(p.Reply, SendResult{Err: err})
		delete(state.PendingSends, id)
	}
	return state
}

func replyErr(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func replySend(ch chan SendResult, res SendResult) {
	if ch == nil {
		return
	}
	select {
	case ch <- res:
	default:
	}
}
