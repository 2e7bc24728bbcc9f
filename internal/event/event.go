package event

import (
	"time"
)

// Kind identifies one of the six event variants
type Kind uint8

const (
	KindChat Kind = iota + 1
	KindGift
	KindSocial
	KindSubscription
	KindControl
	KindRoomStats
)

// Kinds lists every variant in a stable order
var Kinds = []Kind{KindChat, KindGift, KindSocial, KindSubscription, KindControl, KindRoomStats}

// String returns the label used in metrics, logs and archive keys
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindGift:
		return "gift"
	case KindSocial:
		return "social"
	case KindSubscription:
		return "subscription"
	case KindControl:
		return "control"
	case KindRoomStats:
		return "room_stats"
	default:
		return "unknown"
	}
}

// Event is the closed set of records flowing through the pipeline.
// Only the six types in this package implement it.
type Event interface {
	Kind() Kind
	Base() Envelope
	sealed()
}

// Envelope holds the temporal/room metadata shared by every event
type Envelope struct {
	EventTime time.Time `json:"event_time"` // Producer-assigned, millisecond precision
	RoomID    uint64    `json:"room_id"`    // Originating live session
}

// Base returns the envelope itself so embedding types satisfy Event
func (e Envelope) Base() Envelope { return e }

// Chat is a chat message posted in the room
type Chat struct {
	Envelope
	MessageID  uint64            `json:"message_id"`
	UserID     uint64            `json:"user_id"`
	Username   string            `json:"username"`
	Text       string            `json:"text"`
	Emotes     map[string]uint32 `json:"emotes,omitempty"` // Emote name -> count
	ReplyToID  uint64            `json:"reply_to_id,omitempty"`
	DeviceType string            `json:"device_type,omitempty"`
}

// Gift is a paid gift sent to the host
type Gift struct {
	Envelope
	UserID       uint64 `json:"user_id"`
	Username     string `json:"username"`
	GiftID       uint32 `json:"gift_id"`
	GiftName     string `json:"gift_name"`
	DiamondCount uint32 `json:"diamond_count"`
	ComboID      uint64 `json:"combo_id,omitempty"`
	StreakTotal  uint32 `json:"streak_total"`
	RepeatEnd    bool   `json:"repeat_end"` // Marks streak completion
}

// Social is a like, follow, share or join
type Social struct {
	Envelope
	UserID     uint64     `json:"user_id"`
	Username   string     `json:"username"`
	SocialType SocialType `json:"social_type"`
	Count      uint32     `json:"count"` // Aggregated repeated likes, defaults to 1
}

// Subscription is a new or renewed paid subscription
type Subscription struct {
	Envelope
	UserID      uint64 `json:"user_id"`
	Username    string `json:"username"`
	SubTier     uint8  `json:"sub_tier"`
	MonthsTotal uint32 `json:"months_total"`
	IsRenew     bool   `json:"is_renew"`
}

// Control is a room lifecycle signal
type Control struct {
	Envelope
	ControlType ControlType `json:"control_type"`
	Value       string      `json:"value,omitempty"`
}

// RoomStats is a periodic room snapshot with no user identity
type RoomStats struct {
	Envelope
	ViewerCount uint32 `json:"viewer_count"`
	LikeCount   uint32 `json:"like_count"`
	ShareCount  uint32 `json:"share_count"`
}

func (Chat) Kind() Kind         { return KindChat }
func (Gift) Kind() Kind         { return KindGift }
func (Social) Kind() Kind       { return KindSocial }
func (Subscription) Kind() Kind { return KindSubscription }
func (Control) Kind() Kind      { return KindControl }
func (RoomStats) Kind() Kind    { return KindRoomStats }

func (Chat) sealed()         {}
func (Gift) sealed()         {}
func (Social) sealed()       {}
func (Subscription) sealed() {}
func (Control) sealed()      {}
func (RoomStats) sealed()    {}

// Stamp returns a copy of ev with an empty room id or event time filled in.
// Event times are truncated to millisecond precision and a zero social count becomes 1.
func Stamp(ev Event, roomID uint64, now time.Time) Event {
	fill := func(env *Envelope) {
		if env.RoomID == 0 {
			env.RoomID = roomID
		}
		if env.EventTime.IsZero() {
			env.EventTime = now
		}
		env.EventTime = env.EventTime.UTC().Truncate(time.Millisecond)
	}

	switch e := ev.(type) {
	case Chat:
		fill(&e.Envelope)
		return e
	case Gift:
		fill(&e.Envelope)
		return e
	case Social:
		fill(&e.Envelope)
		if e.Count == 0 {
			e.Count = 1
		}
		return e
	case Subscription:
		fill(&e.Envelope)
		return e
	case Control:
		fill(&e.Envelope)
		return e
	case RoomStats:
		fill(&e.Envelope)
		return e
	default:
		return ev
	}
}
