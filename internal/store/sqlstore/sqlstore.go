// Package sqlstore persists events into MySQL-protocol fact and dimension
// tables. Fact batches go out as multi-row INSERTs inside one transaction so
// a batch lands whole or not at all.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/store"
)

// Options configures the connection pool
type Options struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
	PingTimeout  time.Duration
	RowsPerStmt  int // Rows per INSERT statement, default 1000
}

// Store implements store.Store on database/sql
type Store struct {
	db          *sql.DB
	rowsPerStmt int
}

var _ store.Store = (*Store)(nil)

// Open connects and pings the database
func Open(opt Options) (*Store, error) {
	if opt.MaxOpenConns <= 0 {
		opt.MaxOpenConns = 16
	}
	if opt.MaxIdleConns <= 0 {
		opt.MaxIdleConns = 8
	}
	if opt.ConnMaxLife == 0 {
		opt.ConnMaxLife = 30 * time.Minute
	}
	if opt.PingTimeout == 0 {
		opt.PingTimeout = 2 * time.Second
	}

	db, err := sql.Open("mysql", opt.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(opt.MaxOpenConns)
	db.SetMaxIdleConns(opt.MaxIdleConns)
	db.SetConnMaxLifetime(opt.ConnMaxLife)

	ctx, cancel := context.WithTimeout(context.Background(), opt.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewWithDB(db, opt.RowsPerStmt), nil
}

// NewWithDB wraps an existing handle
func NewWithDB(db *sql.DB, rowsPerStmt int) *Store {
	if rowsPerStmt <= 0 {
		rowsPerStmt = 1000
	}
	return &Store{db: db, rowsPerStmt: rowsPerStmt}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	chatColumns    = []string{"event_time", "room_id", "message_id", "user_id", "text", "emotes", "reply_to_id", "device_type"}
	giftColumns    = []string{"event_time", "room_id", "user_id", "gift_id", "diamond_count", "combo_id", "streak_total", "repeat_end"}
	socialColumns  = []string{"event_time", "room_id", "user_id", "social_type", "count"}
	subColumns     = []string{"event_time", "room_id", "user_id", "sub_tier", "months_total", "is_renew"}
	controlColumns = []string{"event_time", "room_id", "control_type", "value"}
	roomColumns    = []string{"event_time", "room_id", "viewer_count", "like_count", "share_count"}
)

func (s *Store) PersistChats(ctx context.Context, events []event.Chat) error {
	return s.insertRows(ctx, "fact_chat", chatColumns, len(events), func(i int) ([]any, error) {
		e := events[i]
		emotes, err := encodeEmotes(e.Emotes)
		if err != nil {
			return nil, err
		}
		return []any{e.EventTime, e.RoomID, e.MessageID, e.UserID, e.Text, emotes, e.ReplyToID, e.DeviceType}, nil
	})
}

func (s *Store) PersistGifts(ctx context.Context, events []event.Gift) error {
	return s.insertRows(ctx, "fact_gift", giftColumns, len(events), func(i int) ([]any, error) {
		e := events[i]
		return []any{e.EventTime, e.RoomID, e.UserID, e.GiftID, e.DiamondCount, e.ComboID, e.StreakTotal, e.RepeatEnd}, nil
	})
}

func (s *Store) PersistSocials(ctx context.Context, events []event.Social) error {
	return s.insertRows(ctx, "fact_social", socialColumns, len(events), func(i int) ([]any, error) {
		e := events[i]
		return []any{e.EventTime, e.RoomID, e.UserID, e.SocialType.String(), e.Count}, nil
	})
}

func (s *Store) PersistSubscriptions(ctx context.Context, events []event.Subscription) error {
	return s.insertRows(ctx, "fact_sub", subColumns, len(events), func(i int) ([]any, error) {
		e := events[i]
		return []any{e.EventTime, e.RoomID, e.UserID, e.SubTier, e.MonthsTotal, e.IsRenew}, nil
	})
}

func (s *Store) PersistControls(ctx context.Context, events []event.Control) error {
	return s.insertRows(ctx, "fact_control", controlColumns, len(events), func(i int) ([]any, error) {
		e := events[i]
		return []any{e.EventTime, e.RoomID, e.ControlType.String(), e.Value}, nil
	})
}

func (s *Store) PersistRoomStats(ctx context.Context, events []event.RoomStats) error {
	return s.insertRows(ctx, "fact_room", roomColumns, len(events), func(i int) ([]any, error) {
		e := events[i]
		return []any{e.EventTime, e.RoomID, e.ViewerCount, e.LikeCount, e.ShareCount}, nil
	})
}

func (s *Store) UpsertUser(ctx context.Context, u store.User) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dim_users (user_id, unique_id, nickname, region, follower_count, first_seen, last_seen)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE nickname = VALUES(nickname), last_seen = VALUES(last_seen)
`, u.UserID, u.UniqueID, u.Nickname, u.Region, u.FollowerCount, u.SeenAt, u.SeenAt)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.UserID, err)
	}
	return nil
}

func (s *Store) UpsertGift(ctx context.Context, g store.GiftInfo) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dim_gifts (gift_id, name, coin_cost, diamond_cost, is_exclusive, is_on_panel)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), diamond_cost = VALUES(diamond_cost)
`, g.GiftID, g.Name, g.CoinCost, g.DiamondCost, g.IsExclusive, g.IsOnPanel)
	if err != nil {
		return fmt.Errorf("upsert gift %d: %w", g.GiftID, err)
	}
	return nil
}

func (s *Store) UpsertRoom(ctx context.Context, r store.Room) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dim_rooms (room_id, host_user_id, title, language, start_time)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE title = VALUES(title), start_time = VALUES(start_time), end_time = NULL
`, r.RoomID, r.HostUserID, r.Title, r.Language, r.StartTime)
	if err != nil {
		return fmt.Errorf("upsert room %d: %w", r.RoomID, err)
	}
	return nil
}

func (s *Store) UpdateRoomEnd(ctx context.Context, roomID uint64, endTime time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE dim_rooms SET end_time = ? WHERE room_id = ?`, endTime, roomID)
	if err != nil {
		return fmt.Errorf("update room %d end: %w", roomID, err)
	}
	return nil
}

// insertRows writes n rows in chunks of rowsPerStmt inside one transaction
func (s *Store) insertRows(ctx context.Context, table string, cols []string, n int, row func(i int) ([]any, error)) error {
	if n == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s insert: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < n; start += s.rowsPerStmt {
		end := min(start+s.rowsPerStmt, n)
		args := make([]any, 0, (end-start)*len(cols))
		for i := start; i < end; i++ {
			vals, err := row(i)
			if err != nil {
				return fmt.Errorf("encode %s row %d: %w", table, i, err)
			}
			args = append(args, vals...)
		}
		if _, err := tx.ExecContext(ctx, insertStatement(table, cols, end-start), args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s insert: %w", table, err)
	}
	return nil
}

func insertStatement(table string, cols []string, rows int) string {
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder)
	}
	return b.String()
}

func encodeEmotes(emotes map[string]uint32) (string, error) {
	if len(emotes) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(emotes)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
