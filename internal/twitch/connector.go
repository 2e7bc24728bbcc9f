package twitch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gempir/go-twitch-irc/v4"
	"go.uber.org/zap"

	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/source"
)

// Connector streams one Twitch channel's chat as events
type Connector struct {
	username string
	oauth    string
	channel  string
	log      *zap.Logger

	roomID    atomic.Uint64
	connected atomic.Bool

	mu      sync.Mutex
	client  *twitch.Client
	handler source.Handler
	done    chan struct{}

	// Session state, guarded by mu. LiveStart is held back while the room
	// id is unknown so the room row is keyed correctly.
	live         bool
	pendingStart bool
}

var _ source.Source = (*Connector)(nil)

// New creates a connector. roomID may be zero; it is then learned from the
// channel's ROOMSTATE or the first message's room-id tag.
func New(username, oauth, channel string, roomID uint64, log *zap.Logger) *Connector {
	c := &Connector{
		username: username,
		oauth:    oauth,
		channel:  strings.ToLower(strings.TrimPrefix(channel, "#")),
		log:      log.Named("twitch"),
	}
	c.roomID.Store(roomID)
	return c
}

func (c *Connector) RoomID() uint64  { return c.roomID.Load() }
func (c *Connector) Host() string    { return c.channel }
func (c *Connector) Connected() bool { return c.connected.Load() }

// Start connects to Twitch IRC and joins the channel
func (c *Connector) Start(ctx context.Context, h source.Handler) error {
	if h == nil {
		h = source.LogHandler(c.log)
	}

	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		c.log.Warn("twitch connector already running")
		return nil
	}
	client := twitch.NewClient(c.username, c.oauth)
	done := make(chan struct{})
	c.client, c.handler, c.done = client, h, done
	c.mu.Unlock()

	send := func(ev event.Event) {
		if !source.Deliver(ctx, h, ev, c.log) {
			go func() { _ = client.Disconnect() }()
		}
	}
	deliver := func(ev event.Event) {
		if c.learnRoom(ev.Base().RoomID) {
			send(c.control(event.ControlLiveStart))
		}
		send(c.stamp(ev))
	}

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		for _, ev := range fromPrivateMessage(msg) {
			deliver(ev)
		}
	})
	client.OnUserNoticeMessage(func(msg twitch.UserNoticeMessage) {
		if ev, ok := fromUserNotice(msg); ok {
			deliver(ev)
		}
	})
	client.OnRoomStateMessage(func(msg twitch.RoomStateMessage) {
		if c.learnRoom(parseUint(msg.RoomID)) {
			send(c.control(event.ControlLiveStart))
		}
	})
	client.OnConnect(func() {
		c.connected.Store(true)
		c.log.Info("connected to Twitch IRC", zap.String("channel", c.channel))
	})
	client.OnReconnectMessage(func(twitch.ReconnectMessage) {
		c.log.Info("reconnecting to Twitch IRC...")
	})

	client.Join(c.channel)

	if c.beginSession() {
		send(c.control(event.ControlLiveStart))
	}

	go func() {
		defer close(done)
		err := client.Connect()
		c.connected.Store(false)
		if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			c.log.Error("twitch IRC connection error", zap.Error(err))
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()
	return nil
}

// Disconnect closes the IRC connection without ending the session
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	client, done := c.client, c.done
	c.client = nil
	c.mu.Unlock()
	if client == nil {
		return nil
	}

	c.log.Info("disconnecting from Twitch IRC...")
	_ = client.Disconnect()
	defer c.connected.Store(false)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.log.Warn("twitch client did not stop in time")
		return ctx.Err()
	}
}

// Stop disconnects and emits LiveEnd if LiveStart went out
func (c *Connector) Stop(ctx context.Context) error {
	_ = c.Disconnect(ctx)

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if !c.endSession() || h == nil {
		return nil
	}
	source.Deliver(ctx, h, c.control(event.ControlLiveEnd), c.log)
	return nil
}

// beginSession opens a session on the first Start. It reports whether
// LiveStart can be emitted now.
func (c *Connector) beginSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live {
		return false
	}
	c.live = true
	if c.roomID.Load() == 0 {
		c.pendingStart = true
		return false
	}
	return true
}

// learnRoom records id if none is known yet and reports whether a held
// back LiveStart is now due
func (c *Connector) learnRoom(id uint64) bool {
	if id != 0 {
		c.roomID.CompareAndSwap(0, id)
	}
	if c.roomID.Load() == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pendingStart {
		return false
	}
	c.pendingStart = false
	return true
}

// endSession closes the session and reports whether LiveEnd is owed
func (c *Connector) endSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	owed := c.live && !c.pendingStart
	c.live, c.pendingStart = false, false
	return owed
}

func (c *Connector) control(t event.ControlType) event.Control {
	return event.Control{
		Envelope:    event.Envelope{EventTime: time.Now().UTC(), RoomID: c.roomID.Load()},
		ControlType: t,
		Value:       c.channel,
	}
}

// stamp fills the room id for events that arrived without one
func (c *Connector) stamp(ev event.Event) event.Event {
	return event.Stamp(ev, c.roomID.Load(), time.Now())
}
