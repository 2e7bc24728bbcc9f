package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SocialType is the kind of social interaction
type SocialType uint8

const (
	SocialLike SocialType = iota + 1
	SocialFollow
	SocialShare
	SocialJoin
)

func (t SocialType) String() string {
	switch t {
	case SocialLike:
		return "like"
	case SocialFollow:
		return "follow"
	case SocialShare:
		return "share"
	case SocialJoin:
		return "join"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the type by name so broadcast frames stay readable
func (t SocialType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the name produced by MarshalJSON
func (t *SocialType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode social type: %w", err)
	}
	for _, v := range []SocialType{SocialLike, SocialFollow, SocialShare, SocialJoin} {
		if strings.EqualFold(s, v.String()) {
			*t = v
			return nil
		}
	}
	return fmt.Errorf("unknown social type %q", s)
}

// ControlType is a room lifecycle transition
type ControlType uint8

const (
	ControlLiveStart ControlType = iota + 1
	ControlLivePause
	ControlLiveResume
	ControlLiveEnd
)

func (t ControlType) String() string {
	switch t {
	case ControlLiveStart:
		return "live_start"
	case ControlLivePause:
		return "live_pause"
	case ControlLiveResume:
		return "live_resume"
	case ControlLiveEnd:
		return "live_end"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the type by name
func (t ControlType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the name produced by MarshalJSON
func (t *ControlType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode control type: %w", err)
	}
	for _, v := range []ControlType{ControlLiveStart, ControlLivePause, ControlLiveResume, ControlLiveEnd} {
		if strings.EqualFold(s, v.String()) {
			*t = v
			return nil
		}
	}
	return fmt.Errorf("unknown control type %q", s)
}
