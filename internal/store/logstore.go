package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/john/streamtap/internal/event"
)

// LogStore only logs what it would persist. It backs standalone runs where
// no database is configured.
type LogStore struct {
	log *zap.Logger
}

// NewLogStore creates a logging store
func NewLogStore(log *zap.Logger) *LogStore {
	return &LogStore{log: log.Named("logstore")}
}

func (s *LogStore) batch(kind event.Kind, n int) error {
	s.log.Info("persist batch", zap.Stringer("kind", kind), zap.Int("count", n))
	return nil
}

func (s *LogStore) PersistChats(_ context.Context, events []event.Chat) error {
	return s.batch(event.KindChat, len(events))
}

func (s *LogStore) PersistGifts(_ context.Context, events []event.Gift) error {
	return s.batch(event.KindGift, len(events))
}

func (s *LogStore) PersistSocials(_ context.Context, events []event.Social) error {
	return s.batch(event.KindSocial, len(events))
}

func (s *LogStore) PersistSubscriptions(_ context.Context, events []event.Subscription) error {
	return s.batch(event.KindSubscription, len(events))
}

func (s *LogStore) PersistControls(_ context.Context, events []event.Control) error {
	return s.batch(event.KindControl, len(events))
}

func (s *LogStore) PersistRoomStats(_ context.Context, events []event.RoomStats) error {
	return s.batch(event.KindRoomStats, len(events))
}

func (s *LogStore) UpsertUser(_ context.Context, u User) error {
	s.log.Debug("upsert user", zap.Uint64("user_id", u.UserID), zap.String("nickname", u.Nickname))
	return nil
}

func (s *LogStore) UpsertGift(_ context.Context, g GiftInfo) error {
	s.log.Debug("upsert gift", zap.Uint32("gift_id", g.GiftID), zap.String("name", g.Name))
	return nil
}

func (s *LogStore) UpsertRoom(_ context.Context, r Room) error {
	s.log.Info("upsert room", zap.Uint64("room_id", r.RoomID), zap.String("title", r.Title))
	return nil
}

func (s *LogStore) UpdateRoomEnd(_ context.Context, roomID uint64, endTime time.Time) error {
	s.log.Info("update room end", zap.Uint64("room_id", roomID), zap.Time("end_time", endTime))
	return nil
}
