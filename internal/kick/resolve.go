package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Channel is a Kick channel with its chatroom id
type Channel struct {
	Slug       string
	ChatroomID int
}

type channelResponse struct {
	ID       int    `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
}

// Resolver looks up chatroom ids through the public Kick API
type Resolver struct {
	BaseURL string
	Client  *http.Client
}

// NewResolver returns a resolver for kick.com
func NewResolver() *Resolver {
	return &Resolver{
		BaseURL: "https://kick.com",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Resolve fetches the chatroom id for slug
func (r *Resolver) Resolve(ctx context.Context, slug string) (Channel, error) {
	url := fmt.Sprintf("%s/api/v2/channels/%s", r.BaseURL, slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Channel{}, fmt.Errorf("failed to create request: %w", err)
	}

	// Kick sits behind CloudFlare, which turns away obvious bots
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")

	resp, err := r.Client.Do(req)
	if err != nil {
		return Channel{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Channel{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var info channelResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Channel{}, fmt.Errorf("JSON decode failed: %w", err)
	}
	if info.Chatroom.ID == 0 {
		return Channel{}, fmt.Errorf("channel %s has no chatroom", slug)
	}
	return Channel{Slug: info.Slug, ChatroomID: info.Chatroom.ID}, nil
}
