package twitch

import (
	"testing"
	"time"

	"github.com/gempir/go-twitch-irc/v4"

	"github.com/john/streamtap/internal/event"
)

var sent = time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC)

func TestFromPrivateMessage(t *testing.T) {
	msg := twitch.PrivateMessage{
		User:    twitch.User{ID: "1234", DisplayName: "Viewer"},
		Message: "Kappa Kappa hi",
		ID:      "b34ccfc7-4977-403a-8a94-33c6bac34fb8",
		Time:    sent,
		Tags:    map[string]string{"room-id": "5678", "reply-parent-msg-id": "abc"},
		Emotes:  []*twitch.Emote{{Name: "Kappa", ID: "25", Count: 2}},
	}

	evs := fromPrivateMessage(msg)
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	chat := evs[0].(event.Chat)
	if chat.RoomID != 5678 || chat.UserID != 1234 || chat.Username != "Viewer" {
		t.Fatalf("unexpected chat %+v", chat)
	}
	if chat.MessageID == 0 || chat.MessageID != hashID(msg.ID) {
		t.Fatalf("message id not derived from tag id")
	}
	if chat.ReplyToID != hashID("abc") {
		t.Fatalf("reply id = %d", chat.ReplyToID)
	}
	if chat.Emotes["Kappa"] != 2 {
		t.Fatalf("emotes = %v", chat.Emotes)
	}
	if !chat.EventTime.Equal(sent) {
		t.Fatalf("event time = %v", chat.EventTime)
	}
}

func TestCheerAlsoEmitsGift(t *testing.T) {
	msg := twitch.PrivateMessage{
		User: twitch.User{ID: "9", DisplayName: "Cheerer"},
		Bits: 500,
		Tags: map[string]string{"room-id": "1"},
	}
	evs := fromPrivateMessage(msg)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	gift := evs[1].(event.Gift)
	if gift.DiamondCount != 500 || gift.GiftID != bitsGiftID || gift.UserID != 9 {
		t.Fatalf("unexpected gift %+v", gift)
	}
}

func TestFromUserNotice(t *testing.T) {
	cases := []struct {
		name  string
		msg   twitch.UserNoticeMessage
		check func(t *testing.T, ev event.Event)
	}{
		{
			name: "resub",
			msg: twitch.UserNoticeMessage{
				User:      twitch.User{ID: "42", DisplayName: "Loyal"},
				MsgID:     "resub",
				MsgParams: map[string]string{"msg-param-sub-plan": "2000", "msg-param-cumulative-months": "14"},
			},
			check: func(t *testing.T, ev event.Event) {
				sub := ev.(event.Subscription)
				if sub.UserID != 42 || sub.SubTier != 2 || sub.MonthsTotal != 14 || !sub.IsRenew {
					t.Fatalf("unexpected subscription %+v", sub)
				}
			},
		},
		{
			name: "prime sub",
			msg: twitch.UserNoticeMessage{
				User:      twitch.User{ID: "7"},
				MsgID:     "sub",
				MsgParams: map[string]string{"msg-param-sub-plan": "Prime"},
			},
			check: func(t *testing.T, ev event.Event) {
				sub := ev.(event.Subscription)
				if sub.SubTier != 1 || sub.MonthsTotal != 1 || sub.IsRenew {
					t.Fatalf("unexpected subscription %+v", sub)
				}
			},
		},
		{
			name: "gifted sub goes to recipient",
			msg: twitch.UserNoticeMessage{
				User:  twitch.User{ID: "1", DisplayName: "Gifter"},
				MsgID: "subgift",
				MsgParams: map[string]string{
					"msg-param-recipient-id":           "77",
					"msg-param-recipient-display-name": "Lucky",
					"msg-param-sub-plan":               "1000",
				},
			},
			check: func(t *testing.T, ev event.Event) {
				sub := ev.(event.Subscription)
				if sub.UserID != 77 || sub.Username != "Lucky" {
					t.Fatalf("unexpected subscription %+v", sub)
				}
			},
		},
		{
			name: "raid",
			msg: twitch.UserNoticeMessage{
				User:      twitch.User{ID: "3", DisplayName: "Raider"},
				MsgID:     "raid",
				MsgParams: map[string]string{"msg-param-viewerCount": "250"},
			},
			check: func(t *testing.T, ev event.Event) {
				s := ev.(event.Social)
				if s.SocialType != event.SocialJoin || s.Count != 250 {
					t.Fatalf("unexpected social %+v", s)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := fromUserNotice(tc.msg)
			if !ok {
				t.Fatalf("notice not mapped")
			}
			tc.check(t, ev)
		})
	}

	if _, ok := fromUserNotice(twitch.UserNoticeMessage{MsgID: "announcement"}); ok {
		t.Fatalf("announcement should not map to an event")
	}
}
