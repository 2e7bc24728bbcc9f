package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/store"
)

func newMock(t *testing.T, rowsPerStmt int) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, rowsPerStmt), mock
}

var ts = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestInsertStatement(t *testing.T) {
	got := insertStatement("fact_room", []string{"a", "b"}, 2)
	want := "INSERT INTO fact_room (a, b) VALUES (?, ?), (?, ?)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPersistChatsChunksInOneTransaction(t *testing.T) {
	s, mock := newMock(t, 2)
	chats := []event.Chat{
		{Envelope: event.Envelope{EventTime: ts, RoomID: 1}, MessageID: 10, UserID: 5, Text: "a"},
		{Envelope: event.Envelope{EventTime: ts, RoomID: 1}, MessageID: 11, UserID: 6, Text: "b", Emotes: map[string]uint32{"Kappa": 2}},
		{Envelope: event.Envelope{EventTime: ts, RoomID: 1}, MessageID: 12, UserID: 7, Text: "c"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertStatement("fact_chat", chatColumns, 2))).
		WithArgs(ts, 1, 10, 5, "a", "{}", 0, "", ts, 1, 11, 6, "b", `{"Kappa":2}`, 0, "").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(insertStatement("fact_chat", chatColumns, 1))).
		WithArgs(ts, 1, 12, 7, "c", "{}", 0, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.PersistChats(context.Background(), chats); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPersistRollsBackOnFailure(t *testing.T) {
	s, mock := newMock(t, 10)
	stats := []event.RoomStats{{Envelope: event.Envelope{EventTime: ts, RoomID: 2}, ViewerCount: 50}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fact_room").WillReturnError(errors.New("table locked"))
	mock.ExpectRollback()

	if err := s.PersistRoomStats(context.Background(), stats); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPersistEmptyBatchIsNoop(t *testing.T) {
	s, mock := newMock(t, 10)
	if err := s.PersistGifts(context.Background(), nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPersistSocialsWritesTypeName(t *testing.T) {
	s, mock := newMock(t, 10)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fact_social").
		WithArgs(ts, 3, 8, "follow", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.PersistSocials(context.Background(), []event.Social{
		{Envelope: event.Envelope{EventTime: ts, RoomID: 3}, UserID: 8, SocialType: event.SocialFollow, Count: 1},
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDimensionUpserts(t *testing.T) {
	s, mock := newMock(t, 10)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO dim_users").
		WithArgs(4, "", "neo", "", 0, ts, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO dim_rooms").
		WithArgs(9, 0, "launch", "", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE dim_rooms SET end_time = ? WHERE room_id = ?")).
		WithArgs(ts, 9).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpsertUser(ctx, store.User{UserID: 4, Nickname: "neo", SeenAt: ts}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := s.UpsertRoom(ctx, store.Room{RoomID: 9, Title: "launch", StartTime: ts}); err != nil {
		t.Fatalf("upsert room: %v", err)
	}
	if err := s.UpdateRoomEnd(ctx, 9, ts); err != nil {
		t.Fatalf("update room end: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
