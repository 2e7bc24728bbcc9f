package kick

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	kickchat "github.com/johanvandegriff/kick-chat-wrapper"
	"go.uber.org/zap"

	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/source"
)

// Connector streams one Kick chatroom as events
type Connector struct {
	channel  Channel
	resolver *Resolver
	log      *zap.Logger

	connected atomic.Bool

	mu      sync.Mutex
	client  *kickchat.Client
	handler source.Handler
	cancel  context.CancelFunc
	done    chan struct{}
	live    bool // between LiveStart and LiveEnd
}

var _ source.Source = (*Connector)(nil)

// New creates a connector. A zero chatroom id is resolved from the slug on Start.
func New(ch Channel, resolver *Resolver, log *zap.Logger) *Connector {
	if resolver == nil {
		resolver = NewResolver()
	}
	return &Connector{channel: ch, resolver: resolver, log: log.Named("kick")}
}

func (c *Connector) RoomID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.channel.ChatroomID)
}

func (c *Connector) Host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel.Slug
}

func (c *Connector) Connected() bool { return c.connected.Load() }

// Start resolves the chatroom if needed, joins it and relays chat messages
func (c *Connector) Start(ctx context.Context, h source.Handler) error {
	if h == nil {
		h = source.LogHandler(c.log)
	}

	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		c.log.Warn("kick connector already running")
		return nil
	}

	if c.channel.ChatroomID == 0 {
		resolved, err := c.resolver.Resolve(ctx, c.channel.Slug)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("resolve kick channel %q: %w", c.channel.Slug, err)
		}
		c.channel = resolved
		c.log.Info("resolved Kick channel", zap.String("slug", resolved.Slug), zap.Int("chatroom_id", resolved.ChatroomID))
	}

	client, err := kickchat.NewClient()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to create Kick client: %w", err)
	}
	if err := client.JoinChannelByID(c.channel.ChatroomID); err != nil {
		client.Close()
		c.mu.Unlock()
		return fmt.Errorf("join kick chatroom %d: %w", c.channel.ChatroomID, err)
	}
	c.log.Info("joined Kick channel", zap.String("slug", c.channel.Slug))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.client, c.handler, c.cancel, c.done = client, h, cancel, done
	c.connected.Store(true)
	chatroomID, slug := c.channel.ChatroomID, c.channel.Slug
	roomID := uint64(chatroomID)
	announce := !c.live
	c.live = true
	c.mu.Unlock()

	if announce && !source.Deliver(ctx, h, control(event.ControlLiveStart, roomID, slug), c.log) {
		cancel()
	}

	messages := client.ListenForMessages()
	go func() {
		defer close(done)
		defer c.connected.Store(false)
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					c.log.Warn("Kick message channel closed")
					return
				}
				if msg.ChatroomID != chatroomID {
					c.log.Debug("message from unknown chatroom", zap.Int("chatroom_id", msg.ChatroomID))
					continue
				}
				if !source.Deliver(runCtx, h, convertMessage(msg, roomID), c.log) {
					return
				}
			case <-runCtx.Done():
				return
			}
		}
	}()
	return nil
}

// Disconnect closes the websocket without ending the session
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	client, cancel, done := c.client, c.cancel, c.done
	c.client = nil
	c.mu.Unlock()
	if client == nil {
		return nil
	}

	c.log.Info("disconnecting from Kick chat...")
	cancel()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn("kick reader did not stop in time")
		err = ctx.Err()
	}
	client.Close()
	c.connected.Store(false)
	return err
}

// Stop disconnects and emits LiveEnd for the session
func (c *Connector) Stop(ctx context.Context) error {
	_ = c.Disconnect(ctx)

	c.mu.Lock()
	live, h := c.live, c.handler
	roomID, slug := uint64(c.channel.ChatroomID), c.channel.Slug
	c.live = false
	c.mu.Unlock()
	if !live || h == nil {
		return nil
	}

	source.Deliver(ctx, h, control(event.ControlLiveEnd, roomID, slug), c.log)
	return nil
}

func control(t event.ControlType, roomID uint64, slug string) event.Control {
	return event.Control{
		Envelope:    event.Envelope{EventTime: time.Now().UTC(), RoomID: roomID},
		ControlType: t,
		Value:       slug,
	}
}

// convertMessage maps a Kick chat message. Kick messages expose no numeric
// id, so one is derived from the room, sender and send time.
func convertMessage(msg kickchat.ChatMessage, roomID uint64) event.Chat {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.Itoa(msg.ChatroomID)))
	_, _ = h.Write([]byte(strconv.Itoa(msg.Sender.ID)))
	_, _ = h.Write([]byte(strconv.FormatInt(msg.CreatedAt.UnixNano(), 10)))
	_, _ = h.Write([]byte(msg.Content))

	return event.Chat{
		Envelope:  event.Envelope{EventTime: msg.CreatedAt.UTC(), RoomID: roomID},
		MessageID: h.Sum64(),
		UserID:    uint64(msg.Sender.ID),
		Username:  msg.Sender.Username,
		Text:      msg.Content,
	}
}
