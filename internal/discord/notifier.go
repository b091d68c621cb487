package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbxmon/rbxmon/internal/core"
	"github.com/rbxmon/rbxmon/internal/notify"
)

// Notifier delivers notifications as rich embeds over a DM channel.
// It implements notify.Sender, so it normally sits behind the outbox.
type Notifier struct {
	rest *RestClient
	cfg  core.DiscordConfig

	mu        sync.Mutex
	channelID string
}

func NewNotifier(rest *RestClient, cfg core.DiscordConfig) *Notifier {
	return &Notifier{rest: rest, cfg: cfg}
}

// dmChannel lazily opens the operator's DM channel and caches it.
func (n *Notifier) dmChannel(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channelID != "" {
		return n.channelID, nil
	}
	id, err := n.rest.CreateDM(ctx, n.cfg.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to open DM channel: %w", err)
	}
	n.channelID = id
	return id, nil
}

// Send implements notify.Sender.
func (n *Notifier) Send(ctx context.Context, msg notify.Notification) error {
	channel, err := n.dmChannel(ctx)
	if err != nil {
		return err
	}

	embed := Embed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       msg.Color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if n.cfg.FooterText != "" || n.cfg.FooterIcon != "" {
		embed.Footer = &EmbedFooter{Text: n.cfg.FooterText, IconURL: n.cfg.FooterIcon}
	}

	var content string
	if n.cfg.PingUser {
		content = "<@" + n.cfg.UserID + ">"
	}

	messageID, err := n.rest.SendEmbed(ctx, channel, content, embed)
	if err != nil {
		return err
	}

	if msg.TTL > 0 {
		n.scheduleDelete(channel, messageID, msg.TTL)
	}
	return nil
}

// scheduleDelete expires an ephemeral notification after its TTL.
// Best effort: a failed delete just leaves the message standing.
func (n *Notifier) scheduleDelete(channelID, messageID string, ttl time.Duration) {
	time.AfterFunc(ttl, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.rest.DeleteMessage(ctx, channelID, messageID); err != nil {
			slog.Debug("Failed to delete ephemeral notification", "message", messageID, "error", err)
		}
	})
}

// Reply sends a plain text command response to the operator's DM.
func (n *Notifier) Reply(ctx context.Context, text string) error {
	channel, err := n.dmChannel(ctx)
	if err != nil {
		return err
	}
	_, err = n.rest.SendText(ctx, channel, text)
	return err
}
