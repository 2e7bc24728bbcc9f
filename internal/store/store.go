package store

import (
	"context"
	"time"

	"github.com/john/streamtap/internal/event"
)

// Store is the durable analytical sink. Each bulk call persists its whole
// batch or fails as a unit; retries, if any, are the implementation's job.
type Store interface {
	PersistChats(ctx context.Context, events []event.Chat) error
	PersistGifts(ctx context.Context, events []event.Gift) error
	PersistSocials(ctx context.Context, events []event.Social) error
	PersistSubscriptions(ctx context.Context, events []event.Subscription) error
	PersistControls(ctx context.Context, events []event.Control) error
	PersistRoomStats(ctx context.Context, events []event.RoomStats) error

	UpsertUser(ctx context.Context, u User) error
	UpsertGift(ctx context.Context, g GiftInfo) error
	UpsertRoom(ctx context.Context, r Room) error
	UpdateRoomEnd(ctx context.Context, roomID uint64, endTime time.Time) error
}

// User is a last-seen user dimension record
type User struct {
	UserID        uint64
	UniqueID      string
	Nickname      string
	Region        string
	FollowerCount uint32
	SeenAt        time.Time
}

// GiftInfo is a gift catalogue dimension record
type GiftInfo struct {
	GiftID      uint32
	Name        string
	CoinCost    uint32
	DiamondCost uint32
	IsExclusive bool
	IsOnPanel   bool
}

// Room is a live session dimension record
type Room struct {
	RoomID     uint64
	HostUserID uint64
	Title      string
	Language   string
	StartTime  time.Time
}
