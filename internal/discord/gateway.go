package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Gateway opcodes we handle.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Intents: direct messages plus message content, all we need for a
// DM command channel.
const gatewayIntents = (1 << 12) | (1 << 15)

const (
	gatewayInitialBackoff = time.Second
	gatewayMaxBackoff     = time.Minute
)

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// Gateway maintains the websocket session. Callbacks fire from the
// gateway's own goroutine; consumers must hand work off through a
// guarded dispatch rather than blocking here.
type Gateway struct {
	token string
	rest  *RestClient

	// OnMessage receives every created DM message.
	OnMessage func(authorID, channelID, content string)
	// OnDown fires when the session drops, OnUp when it is live again.
	OnDown func()
	OnUp   func()

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewGateway(token string, rest *RestClient) *Gateway {
	return &Gateway{token: token, rest: rest}
}

// Run keeps a gateway session alive until ctx is cancelled,
// reconnecting with exponential backoff after every drop.
func (g *Gateway) Run(ctx context.Context) error {
	retries := 0
	for {
		err := g.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("Gateway session ended", "error", err, "retries", retries)
		if g.OnDown != nil {
			g.OnDown()
		}

		delay := gatewayBackoff(retries)
		retries++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// gatewayBackoff doubles from 1s per retry, capped at one minute.
func gatewayBackoff(retryCount int) time.Duration {
	delay := gatewayInitialBackoff
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= gatewayMaxBackoff {
			return gatewayMaxBackoff
		}
	}
	return delay
}

// session runs one connect-identify-read cycle.
func (g *Gateway) session(ctx context.Context) error {
	wsURL, err := g.rest.GatewayURL(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve gateway url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL+"/?v=10&encoding=json", nil)
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}
	defer conn.Close()

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()

	// The server opens with HELLO carrying the heartbeat interval.
	var hello payload
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("failed to read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var helloData struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		return fmt.Errorf("failed to decode hello: %w", err)
	}

	if err := g.identify(); err != nil {
		return err
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	var seq int64
	var seqMu sync.Mutex
	go g.heartbeatLoop(hbCtx, time.Duration(helloData.HeartbeatInterval)*time.Millisecond, func() int64 {
		seqMu.Lock()
		defer seqMu.Unlock()
		return seq
	})

	for {
		var p payload
		if err := conn.ReadJSON(&p); err != nil {
			return err
		}
		if p.S != nil {
			seqMu.Lock()
			seq = *p.S
			seqMu.Unlock()
		}

		switch p.Op {
		case opDispatch:
			g.handleDispatch(p)
		case opHeartbeat:
			g.writeJSON(payload{Op: opHeartbeat})
		case opReconnect:
			return errors.New("server requested reconnect")
		case opInvalidSession:
			return errors.New("session invalidated")
		case opHeartbeatAck:
			// Fine.
		}
	}
}

func (g *Gateway) identify() error {
	identify := map[string]any{
		"token":   g.token,
		"intents": gatewayIntents,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "rbxmon",
			"device":  "rbxmon",
		},
	}
	d, err := json.Marshal(identify)
	if err != nil {
		return err
	}
	return g.writeJSON(payload{Op: opIdentify, D: d})
}

func (g *Gateway) heartbeatLoop(ctx context.Context, interval time.Duration, lastSeq func() int64) {
	// First beat after a random fraction of the interval, per protocol.
	first := time.Duration(rand.Int63n(int64(interval) + 1))
	select {
	case <-ctx.Done():
		return
	case <-time.After(first):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		g.sendHeartbeat(lastSeq())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *Gateway) sendHeartbeat(seq int64) {
	d, _ := json.Marshal(seq)
	if err := g.writeJSON(payload{Op: opHeartbeat, D: d}); err != nil {
		slog.Debug("Heartbeat send failed", "error", err)
	}
}

// writeJSON serializes writes; the heartbeat goroutine and the read
// loop's replies share one connection.
func (g *Gateway) writeJSON(p payload) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return errors.New("gateway not connected")
	}
	return g.conn.WriteJSON(p)
}

func (g *Gateway) handleDispatch(p payload) {
	switch p.T {
	case "READY":
		slog.Info("Gateway session ready")
		if g.OnUp != nil {
			g.OnUp()
		}
	case "RESUMED":
		slog.Info("Gateway session resumed")
		if g.OnUp != nil {
			g.OnUp()
		}
	case "MESSAGE_CREATE":
		var msg Message
		if err := json.Unmarshal(p.D, &msg); err != nil {
			slog.Debug("Failed to decode message event", "error", err)
			return
		}
		if g.OnMessage != nil {
			g.OnMessage(msg.Author.ID, msg.ChannelID, msg.Content)
		}
	}
}
