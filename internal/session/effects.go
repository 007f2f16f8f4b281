package session

import (
	"github.com/nlanhduy/online-auction-chat/internal/actor"
)

// Effects are interpreted by the Runtime; the reducer only describes them.

// effConnect dials the channel for the given session epoch.
type effConnect struct {
	actor.EffectBase
	Epoch   int64
	OrderID string
	Token   string
}

// effDisconnect closes the physical connection belonging to Epoch (or any
// older one).
type effDisconnect struct {
	actor.EffectBase
	Epoch int64
}

type effJoinRoom struct {
	actor.EffectBase
	Epoch   int64
	OrderID string
}

type effLeaveRoom struct {
	actor.EffectBase
	Epoch   int64
	OrderID string
}

type effFetchHistory struct {
	actor.EffectBase
	Epoch   int64
	OrderID string
	Page    int
	// Initial marks the page-1 fetch issued right after a join; its result
	// seeds or merges into the timeline rather than prepending.
	Initial bool
}

type effEmitSend struct {
	actor.EffectBase
	Epoch   int64
	OrderID string
	LocalID string
	Content string
}

type effEmitMarkRead struct {
	actor.EffectBase
	Epoch   int64
	OrderID string
}

// effRestMarkRead acknowledges read state over REST while the channel is
// down. It does not touch local message objects.
type effRestMarkRead struct {
	actor.EffectBase
	Epoch   int64
	OrderID string
}

type effEmitTyping struct {
	actor.EffectBase
	Epoch    int64
	OrderID  string
	IsTyping bool
}

type effStartTimer struct {
	actor.EffectBase
	Epoch   int64
	Name    string
	AfterMs int64
}

type effCancelTimer struct {
	actor.EffectBase
	Name string
}
