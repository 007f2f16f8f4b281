package session

import (
	"github.com/nlanhduy/online-auction-chat/internal/actor"
	"github.com/nlanhduy/online-auction-chat/internal/wire"
)

// Commands issued by the caller through the Coordinator.

type cmdOpen struct {
	actor.InputBase
	OrderID string
	Token   string
	SelfID  string
	Reply   chan error
}

type cmdClose struct {
	actor.InputBase
	Reply chan error
}

type cmdReconnect struct {
	actor.InputBase
	Reply chan error
}

type cmdSend struct {
	actor.InputBase
	LocalID string
	Content string
	Reply   chan SendResult
}

type cmdMarkRead struct {
	actor.InputBase
	Reply chan error
}

type cmdLoadMore struct {
	actor.InputBase
}

type cmdTyping struct {
	actor.InputBase
}

// Events emitted by the runtime back into the reducer. Every event carries
// the epoch of the session it was observed for; the reducer discards events
// whose epoch does not match the current one.

type evConnected struct {
	actor.InputBase
	Epoch int64
}

type evDisconnected struct {
	actor.InputBase
	Epoch  int64
	Reason string
}

type evConnectFailed struct {
	actor.InputBase
	Epoch int64
	Err   error
}

type evAuthExpired struct {
	actor.InputBase
	Epoch  int64
	Reason string
}

type evJoined struct {
	actor.InputBase
	Epoch       int64
	RoomName    string
	UnreadCount int
}

type evNewMessage struct {
	actor.InputBase
	Epoch int64
	Msg   wire.Message
}

type evTyping struct {
	actor.InputBase
	Epoch    int64
	UserID   string
	FullName string
	IsTyping bool
}

type evMessagesRead struct {
	actor.InputBase
	Epoch  int64
	UserID string
}

type evHistoryFetched struct {
	actor.InputBase
	Epoch   int64
	Page    int
	Initial bool
	Msgs    []wire.Message
	HasMore bool
}

type evHistoryFetchFailed struct {
	actor.InputBase
	Epoch   int64
	Page    int
	Initial bool
	Err     error
}

type evSendAcked struct {
	actor.InputBase
	Epoch   int64
	LocalID string
	Msg     wire.Message
}

type evSendFailed struct {
	actor.InputBase
	Epoch   int64
	LocalID string
	Err     error
}

type evTimerFired struct {
	actor.InputBase
	Epoch int64
	Name  string
	NowMs int64
}
