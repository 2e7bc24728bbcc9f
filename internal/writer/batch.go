package writer

import (
	"github.com/john/streamtap/internal/event"
)

// batch holds one ordered buffer per event kind
type batch struct {
	chats         []event.Chat
	gifts         []event.Gift
	socials       []event.Social
	subscriptions []event.Subscription
	controls      []event.Control
	roomStats     []event.RoomStats
	n             int
}

// add appends ev to its kind's buffer. It reports false for an event it
// does not recognise, leaving the batch untouched.
func (b *batch) add(ev event.Event) bool {
	switch e := ev.(type) {
	case event.Chat:
		b.chats = append(b.chats, e)
	case event.Gift:
		b.gifts = append(b.gifts, e)
	case event.Social:
		b.socials = append(b.socials, e)
	case event.Subscription:
		b.subscriptions = append(b.subscriptions, e)
	case event.Control:
		b.controls = append(b.controls, e)
	case event.RoomStats:
		b.roomStats = append(b.roomStats, e)
	default:
		return false
	}
	b.n++
	return true
}

// take hands off the buffered events and leaves b empty
func (b *batch) take() batch {
	out := *b
	*b = batch{}
	return out
}

func (b *batch) count(kind event.Kind) int {
	switch kind {
	case event.KindChat:
		return len(b.chats)
	case event.KindGift:
		return len(b.gifts)
	case event.KindSocial:
		return len(b.socials)
	case event.KindSubscription:
		return len(b.subscriptions)
	case event.KindControl:
		return len(b.controls)
	case event.KindRoomStats:
		return len(b.roomStats)
	}
	return 0
}
