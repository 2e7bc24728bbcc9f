package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RawEnvelope is the archive record for one event: an opaque payload plus
// the room, type, id and receive time needed to file it.
type RawEnvelope struct {
	EventID    string          `json:"eventId"`
	ReceivedAt time.Time       `json:"receivedAt"`
	RoomID     uint64          `json:"roomId"`
	EventType  string          `json:"eventType"`
	Data       json.RawMessage `json:"data"`
}

// NaturalID returns the id an event carries itself, if any.
// Only chat messages have one.
func NaturalID(ev Event) (string, bool) {
	if c, ok := ev.(Chat); ok && c.MessageID != 0 {
		return strconv.FormatUint(c.MessageID, 10), true
	}
	return "", false
}

// NewRawEnvelope wraps ev for archiving under the given id
func NewRawEnvelope(ev Event, id string, receivedAt time.Time) (RawEnvelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return RawEnvelope{}, fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}
	return RawEnvelope{
		EventID:    id,
		ReceivedAt: receivedAt.UTC(),
		RoomID:     ev.Base().RoomID,
		EventType:  ev.Kind().String(),
		Data:       data,
	}, nil
}
