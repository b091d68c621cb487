package discord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rbxmon/rbxmon/internal/core"
	"github.com/rbxmon/rbxmon/internal/notify"
)

// fakeAPI records requests against a minimal Discord HTTP API.
type fakeAPI struct {
	mu       sync.Mutex
	requests []string // "METHOD path"
	bodies   []map[string]any
	deleted  []string
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		var body map[string]any
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			json.Unmarshal(raw, &body)
		}
		f.bodies = append(f.bodies, body)
		if r.Method == http.MethodDelete {
			f.deleted = append(f.deleted, r.URL.Path)
		}
		f.mu.Unlock()

		switch {
		case r.URL.Path == "/users/@me/channels":
			json.NewEncoder(w).Encode(map[string]string{"id": "dm-channel-1"})
		case r.URL.Path == "/users/42":
			json.NewEncoder(w).Encode(map[string]string{"id": "42", "username": "operator"})
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]string{"id": "msg-1"})
		default:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("{}"))
		}
	})
}

func (f *fakeAPI) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

func newTestNotifier(t *testing.T, cfg core.DiscordConfig) (*Notifier, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	rest := NewRestClient("test-token")
	rest.baseURL = server.URL
	return NewNotifier(rest, cfg), api
}

func TestNotifier_SendEmbed(t *testing.T) {
	notifier, api := newTestNotifier(t, core.DiscordConfig{
		UserID:     "42",
		FooterText: "rbxmon",
		PingUser:   true,
	})

	err := notifier.Send(context.Background(), notify.Notification{
		Title: "Session Started",
		Body:  "The game client is running.",
		Color: 0x2ecc71,
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.requests) != 2 {
		t.Fatalf("expected DM open + message send, got %v", api.requests)
	}
	if api.requests[0] != "POST /users/@me/channels" {
		t.Errorf("first request = %q", api.requests[0])
	}
	if api.requests[1] != "POST /channels/dm-channel-1/messages" {
		t.Errorf("second request = %q", api.requests[1])
	}

	body := api.bodies[1]
	if body["content"] != "<@42>" {
		t.Errorf("ping content = %v", body["content"])
	}
	embeds, ok := body["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("expected one embed, got %v", body["embeds"])
	}
	embed := embeds[0].(map[string]any)
	if embed["title"] != "Session Started" {
		t.Errorf("embed title = %v", embed["title"])
	}
	footer, ok := embed["footer"].(map[string]any)
	if !ok || footer["text"] != "rbxmon" {
		t.Errorf("embed footer = %v", embed["footer"])
	}
}

func TestNotifier_DMChannelCached(t *testing.T) {
	notifier, api := newTestNotifier(t, core.DiscordConfig{UserID: "42"})

	for i := 0; i < 3; i++ {
		if err := notifier.Send(context.Background(), notify.Notification{Title: "n"}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	opens := 0
	for _, r := range api.requests {
		if r == "POST /users/@me/channels" {
			opens++
		}
	}
	if opens != 1 {
		t.Errorf("DM channel opened %d times, want 1", opens)
	}
}

func TestNotifier_EphemeralDelete(t *testing.T) {
	notifier, api := newTestNotifier(t, core.DiscordConfig{UserID: "42"})

	err := notifier.Send(context.Background(), notify.Notification{
		Title: "Session Started",
		TTL:   50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for api.deletedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ephemeral message was never deleted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"Missing Access"}`))
	}))
	defer server.Close()

	rest := NewRestClient("test-token")
	rest.baseURL = server.URL
	if _, err := rest.FetchUser(context.Background(), "42"); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestGatewayBackoff(t *testing.T) {
	cases := []struct {
		retries int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{100, time.Minute},
	}
	for _, tc := range cases {
		if got := gatewayBackoff(tc.retries); got != tc.want {
			t.Errorf("gatewayBackoff(%d) = %v, want %v", tc.retries, got, tc.want)
		}
	}
}

func TestGateway_DispatchMessageCreate(t *testing.T) {
	g := NewGateway("tok", nil)

	var gotAuthor, gotChannel, gotContent string
	g.OnMessage = func(author, channel, content string) {
		gotAuthor, gotChannel, gotContent = author, channel, content
	}

	raw, _ := json.Marshal(Message{
		ID:        "m1",
		ChannelID: "dm-1",
		Content:   "!kill",
		Author:    User{ID: "42"},
	})
	g.handleDispatch(payload{Op: opDispatch, T: "MESSAGE_CREATE", D: raw})

	if gotAuthor != "42" || gotChannel != "dm-1" || gotContent != "!kill" {
		t.Errorf("OnMessage got (%q, %q, %q)", gotAuthor, gotChannel, gotContent)
	}
}

func TestGateway_DispatchResume(t *testing.T) {
	g := NewGateway("tok", nil)
	ups := 0
	g.OnUp = func() { ups++ }

	g.handleDispatch(payload{Op: opDispatch, T: "READY"})
	g.handleDispatch(payload{Op: opDispatch, T: "RESUMED"})
	if ups != 2 {
		t.Errorf("OnUp fired %d times, want 2", ups)
	}
}
