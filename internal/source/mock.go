package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/john/streamtap/internal/event"
)

var mockMessages = []string{
	"Hello from the chat!",
	"Great stream today!",
	"🔥🔥🔥",
	"I love your content!",
	"Can you say hi to me?",
	"This is amazing",
	"LOL 😂",
	"When is the next stream?",
	"First time here, love the vibe",
	"How are you today?",
}

var mockGifts = []string{"Rose", "Ice Cream", "Guitar", "Star", "Rocket", "Heart", "Lion", "Crown", "Diamond", "Trophy"}

// Mock generates a plausible random stream for local runs and demos
type Mock struct {
	host     string
	roomID   uint64
	interval time.Duration
	rng      *rand.Rand
	log      *zap.Logger

	mu        sync.Mutex
	handler   Handler
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
	live      bool // between LiveStart and LiveEnd
	messageID uint64
}

// MockOption customises a Mock
type MockOption func(*Mock)

// WithSeed makes the generated stream reproducible
func WithSeed(seed uint64) MockOption {
	return func(m *Mock) { m.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// NewMock creates a mock source. A zero roomID picks a random one and a
// zero interval defaults to three seconds.
func NewMock(host string, roomID uint64, interval time.Duration, log *zap.Logger, opts ...MockOption) *Mock {
	m := &Mock{
		host:     host,
		interval: interval,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1)),
		log:      log.Named("mock"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = 3 * time.Second
	}
	if roomID == 0 {
		roomID = 100000 + m.rng.Uint64N(900000)
	}
	m.roomID = roomID
	return m
}

func (m *Mock) RoomID() uint64 { return m.roomID }
func (m *Mock) Host() string   { return m.host }

func (m *Mock) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *Mock) Start(ctx context.Context, h Handler) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Warn("mock source already running")
		return nil
	}
	if h == nil {
		h = LogHandler(m.log)
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.handler = h
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	announce := !m.live
	m.live = true
	m.mu.Unlock()

	m.log.Info("mock source started", zap.String("host", m.host), zap.Uint64("room_id", m.roomID))
	if announce && !Deliver(ctx, h, m.control(event.ControlLiveStart), m.log) {
		cancel()
	}
	go m.run(runCtx, h)
	return nil
}

func (m *Mock) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for mock generator: %w", ctx.Err())
	}
}

func (m *Mock) Stop(ctx context.Context) error {
	if err := m.Disconnect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	live, h := m.live, m.handler
	m.live = false
	m.mu.Unlock()
	if !live {
		return nil
	}

	Deliver(ctx, h, m.control(event.ControlLiveEnd), m.log)
	m.log.Info("mock source stopped", zap.String("host", m.host))
	return nil
}

func (m *Mock) control(t event.ControlType) event.Control {
	return event.Control{
		Envelope:    event.Envelope{EventTime: time.Now().UTC(), RoomID: m.roomID},
		ControlType: t,
		Value:       m.host,
	}
}

func (m *Mock) run(ctx context.Context, h Handler) {
	defer close(m.done)

	stats := event.RoomStats{ViewerCount: 100}
	emit := func(ev event.Event) bool { return Deliver(ctx, h, ev, m.log) }

	stats.Envelope = m.envelope()
	if !emit(stats) {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats.ViewerCount = uint32(max(1, int64(stats.ViewerCount)+m.rng.Int64N(30)-10))
		stats.LikeCount += uint32(m.rng.IntN(100))
		stats.ShareCount += uint32(m.rng.IntN(5))
		if m.rng.IntN(100) < 20 {
			stats.Envelope = m.envelope()
			if !emit(stats) {
				return
			}
		}

		if !emit(m.next()) {
			return
		}
	}
}

// next draws one event: 60% chat, 15% gift, 10% like and 5% each of
// follow, share and join
func (m *Mock) next() event.Event {
	env := m.envelope()
	userID := 10000 + m.rng.Uint64N(90000)
	username := fmt.Sprintf("user_%d", 1000+m.rng.IntN(9000))

	roll := m.rng.IntN(100)
	switch {
	case roll < 60:
		m.messageID++
		return event.Chat{
			Envelope:   env,
			MessageID:  m.messageID,
			UserID:     userID,
			Username:   username,
			Text:       mockMessages[m.rng.IntN(len(mockMessages))],
			DeviceType: "unknown",
		}
	case roll < 75:
		return event.Gift{
			Envelope:     env,
			UserID:       userID,
			Username:     username,
			GiftID:       uint32(1 + m.rng.IntN(99)),
			GiftName:     mockGifts[m.rng.IntN(len(mockGifts))],
			DiamondCount: uint32(1 + m.rng.IntN(999)),
			ComboID:      100000 + m.rng.Uint64N(900000),
			StreakTotal:  uint32(1 + m.rng.IntN(9)),
			RepeatEnd:    m.rng.IntN(100) < 80,
		}
	case roll < 85:
		return event.Social{Envelope: env, UserID: userID, Username: username, SocialType: event.SocialLike, Count: uint32(1 + m.rng.IntN(9))}
	case roll < 90:
		return event.Social{Envelope: env, UserID: userID, Username: username, SocialType: event.SocialFollow, Count: 1}
	case roll < 95:
		return event.Social{Envelope: env, UserID: userID, Username: username, SocialType: event.SocialShare, Count: 1}
	default:
		return event.Social{Envelope: env, UserID: userID, Username: username, SocialType: event.SocialJoin, Count: 1}
	}
}

func (m *Mock) envelope() event.Envelope {
	return event.Envelope{EventTime: time.Now().UTC(), RoomID: m.roomID}
}
