// Package discord is the chat transport: a small REST client for DM
// delivery and a gateway client that receives operator commands and
// reports its own connectivity.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIBase = "https://discord.com/api/v10"

// RestClient talks to the Discord HTTP API with a bot token.
type RestClient struct {
	token   string
	baseURL string
	client  *http.Client
}

func NewRestClient(token string) *RestClient {
	return &RestClient{
		token:   token,
		baseURL: defaultAPIBase,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// User is the subset of the Discord user object we need.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message is the subset of the message object we need.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    User   `json:"author"`
}

// Embed mirrors the wire format of a Discord rich embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

func (c *RestClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord api %s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// FetchUser resolves a user ID to its profile; used at startup to
// confirm the configured operator exists.
func (c *RestClient) FetchUser(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/users/"+userID, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateDM opens (or returns the existing) DM channel with a user.
func (c *RestClient) CreateDM(ctx context.Context, userID string) (string, error) {
	var ch struct {
		ID string `json:"id"`
	}
	body := map[string]string{"recipient_id": userID}
	if err := c.do(ctx, http.MethodPost, "/users/@me/channels", body, &ch); err != nil {
		return "", err
	}
	return ch.ID, nil
}

// SendEmbed posts an embed (with optional plain content, used for
// mentions) and returns the created message ID.
func (c *RestClient) SendEmbed(ctx context.Context, channelID, content string, embed Embed) (string, error) {
	var msg Message
	body := map[string]any{"embeds": []Embed{embed}}
	if content != "" {
		body["content"] = content
	}
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", body, &msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// SendText posts a plain text message, used for command replies.
func (c *RestClient) SendText(ctx context.Context, channelID, content string) (string, error) {
	var msg Message
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", body, &msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// DeleteMessage removes a previously sent message, used for ephemeral
// notifications.
func (c *RestClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, nil, nil)
}

// GatewayURL asks the API where to open the websocket.
func (c *RestClient) GatewayURL(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/gateway", nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}
