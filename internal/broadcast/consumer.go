package broadcast

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/john/streamtap/internal/dispatch"
	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/metrics"
)

// Frame is the wire shape of one pushed event
type Frame struct {
	Type string      `json:"type"`
	Data event.Event `json:"data"`
}

// EncodeFrame renders ev as a subscriber frame
func EncodeFrame(ev event.Event) ([]byte, error) {
	return json.Marshal(Frame{Type: ev.Kind().String(), Data: ev})
}

// Consumer drains the broadcast channel into the hub
type Consumer struct {
	source  dispatch.Consumer[event.Event]
	hub     *Hub
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewConsumer(source dispatch.Consumer[event.Event], hub *Hub, m *metrics.Metrics, log *zap.Logger) *Consumer {
	return &Consumer{source: source, hub: hub, metrics: m, log: log.Named("broadcast")}
}

// Run publishes events until the channel is closed and drained or ctx ends.
// Subscribers are disconnected on the way out.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.hub.CloseAll()

	for {
		ev, err := c.source.Receive(ctx)
		if errors.Is(err, dispatch.ErrClosed) {
			c.log.Info("broadcast channel closed")
			return nil
		}
		if err != nil {
			return err
		}

		kind := ev.Kind().String()
		frame, err := EncodeFrame(ev)
		if err != nil {
			c.log.Warn("failed to encode frame", zap.String("kind", kind), zap.Error(err))
			continue
		}
		if n := c.hub.Publish(frame); n > 0 {
			c.metrics.BroadcastDelivered.WithLabelValues(kind).Add(float64(n))
		}
		c.metrics.QueueDepth.WithLabelValues("broadcast").Set(float64(c.source.Len()))
	}
}
