package twitch

import (
	"hash/fnv"
	"strconv"
	"time"

	"github.com/gempir/go-twitch-irc/v4"

	"github.com/john/streamtap/internal/event"
)

// bitsGiftID marks cheers in the gift catalogue
const bitsGiftID = 1

// hashID folds Twitch's string message ids into the numeric id space
func hashID(s string) uint64 {
	if s == "" {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func envelope(roomID string, t time.Time) event.Envelope {
	return event.Envelope{EventTime: t.UTC(), RoomID: parseUint(roomID)}
}

// fromPrivateMessage turns a chat line into a Chat, plus a Gift when the
// line carries a cheer.
func fromPrivateMessage(msg twitch.PrivateMessage) []event.Event {
	env := envelope(msg.Tags["room-id"], msg.Time)
	userID := parseUint(msg.User.ID)

	chat := event.Chat{
		Envelope:  env,
		MessageID: hashID(msg.ID),
		UserID:    userID,
		Username:  msg.User.DisplayName,
		Text:      msg.Message,
		ReplyToID: hashID(msg.Tags["reply-parent-msg-id"]),
	}
	if len(msg.Emotes) > 0 {
		chat.Emotes = make(map[string]uint32, len(msg.Emotes))
		for _, e := range msg.Emotes {
			chat.Emotes[e.Name] += uint32(e.Count)
		}
	}

	out := []event.Event{chat}
	if msg.Bits > 0 {
		out = append(out, event.Gift{
			Envelope:     env,
			UserID:       userID,
			Username:     msg.User.DisplayName,
			GiftID:       bitsGiftID,
			GiftName:     "bits",
			DiamondCount: uint32(msg.Bits),
			StreakTotal:  1,
			RepeatEnd:    true,
		})
	}
	return out
}

// fromUserNotice maps subscription and raid notices. Other notices report false.
func fromUserNotice(msg twitch.UserNoticeMessage) (event.Event, bool) {
	env := envelope(msg.Tags["room-id"], msg.Time)
	params := msg.MsgParams

	switch msg.MsgID {
	case "sub", "resub":
		return event.Subscription{
			Envelope:    env,
			UserID:      parseUint(msg.User.ID),
			Username:    msg.User.DisplayName,
			SubTier:     subTier(params["msg-param-sub-plan"]),
			MonthsTotal: uint32(max(1, parseUint(params["msg-param-cumulative-months"]))),
			IsRenew:     msg.MsgID == "resub",
		}, true

	case "subgift", "anonsubgift":
		// The subscription belongs to the recipient, not the gifter
		return event.Subscription{
			Envelope:    env,
			UserID:      parseUint(params["msg-param-recipient-id"]),
			Username:    params["msg-param-recipient-display-name"],
			SubTier:     subTier(params["msg-param-sub-plan"]),
			MonthsTotal: uint32(max(1, parseUint(params["msg-param-months"]))),
		}, true

	case "raid":
		return event.Social{
			Envelope:   env,
			UserID:     parseUint(msg.User.ID),
			Username:   msg.User.DisplayName,
			SocialType: event.SocialJoin,
			Count:      uint32(max(1, parseUint(params["msg-param-viewerCount"]))),
		}, true
	}
	return nil, false
}

func subTier(plan string) uint8 {
	switch plan {
	case "2000":
		return 2
	case "3000":
		return 3
	default:
		// 1000 and Prime
		return 1
	}
}
