package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rbxmon/rbxmon/internal/store"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []string
}

func (s *sinkRecorder) sink(user, title, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, fmt.Sprintf("%s:%s:%s", user, title, description))
}

func newTestServer(t *testing.T) (*Server, *sinkRecorder, *httptest.Server) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.SetUserToken("alice", "alice-token"); err != nil {
		t.Fatalf("Failed to seed token: %v", err)
	}
	if err := st.SetUserToken("bob", "bob-token"); err != nil {
		t.Fatalf("Failed to seed token: %v", err)
	}

	rec := &sinkRecorder{}
	server := NewServer("127.0.0.1:0", st, rec.sink)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, rec, ts
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEvent_ForwardedToSink(t *testing.T) {
	_, rec, ts := newTestServer(t)

	resp := doRequest(t, "POST", ts.URL+"/event", "alice-token",
		`{"user_id":"alice","title":"Disconnect Detected","description":"lost connection"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 || rec.events[0] != "alice:Disconnect Detected:lost connection" {
		t.Errorf("sink received %v", rec.events)
	}
}

func TestEvent_Validation(t *testing.T) {
	_, _, ts := newTestServer(t)

	cases := []struct {
		name  string
		token string
		body  string
		want  int
	}{
		{"no token", "", `{"user_id":"alice","title":"t"}`, http.StatusUnauthorized},
		{"bad token", "nope", `{"user_id":"alice","title":"t"}`, http.StatusUnauthorized},
		{"missing title", "alice-token", `{"user_id":"alice"}`, http.StatusBadRequest},
		{"not json", "alice-token", `not json`, http.StatusBadRequest},
		{"other user", "alice-token", `{"user_id":"bob","title":"t"}`, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, "POST", ts.URL+"/event", tc.token, tc.body)
			if resp.StatusCode != tc.want {
				t.Errorf("status %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestPoll_DrainsAtMostOnce(t *testing.T) {
	server, _, ts := newTestServer(t)
	server.Inbox().Push("alice", "kill")
	server.Inbox().Push("alice", "status")

	resp := doRequest(t, "GET", ts.URL+"/poll/alice", "alice-token", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	var out struct {
		Commands []string `json:"commands"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Commands) != 2 || out.Commands[0] != "kill" || out.Commands[1] != "status" {
		t.Errorf("commands = %v", out.Commands)
	}

	// Second poll must come back empty.
	resp = doRequest(t, "GET", ts.URL+"/poll/alice", "alice-token", "")
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Commands) != 0 {
		t.Errorf("second drain returned %v", out.Commands)
	}
}

func TestPoll_WrongUserForbidden(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp := doRequest(t, "GET", ts.URL+"/poll/bob", "alice-token", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status %d, want 403", resp.StatusCode)
	}
}

func TestStatus_Stored(t *testing.T) {
	server, _, ts := newTestServer(t)

	resp := doRequest(t, "POST", ts.URL+"/status/alice", "alice-token",
		`{"running":true,"elapsed":"01h 02m 03s"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}

	raw, ok := server.LastStatus("alice")
	if !ok {
		t.Fatal("status was not stored")
	}
	var status struct {
		Running bool `json:"running"`
	}
	if err := json.Unmarshal(raw, &status); err != nil || !status.Running {
		t.Errorf("stored status %s", raw)
	}
}

func TestKill_BodyToken(t *testing.T) {
	server, _, ts := newTestServer(t)

	resp := doRequest(t, "POST", ts.URL+"/kill", "", `{"auth_token":"alice-token"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	if cmds := server.Inbox().Drain("alice"); len(cmds) != 1 || cmds[0] != "kill" {
		t.Errorf("inbox = %v", cmds)
	}

	resp = doRequest(t, "POST", ts.URL+"/kill", "", `{"auth_token":"wrong"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status %d, want 403", resp.StatusCode)
	}

	resp = doRequest(t, "POST", ts.URL+"/kill", "", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestInbox_BoundedEviction(t *testing.T) {
	inbox := NewInbox()
	for i := 0; i < inboxCapacity; i++ {
		if evicted := inbox.Push("u", fmt.Sprintf("cmd-%d", i)); evicted {
			t.Fatalf("unexpected eviction at %d", i)
		}
	}
	if evicted := inbox.Push("u", "overflow"); !evicted {
		t.Fatal("expected eviction past capacity")
	}

	cmds := inbox.Drain("u")
	if len(cmds) != inboxCapacity {
		t.Fatalf("drained %d, want %d", len(cmds), inboxCapacity)
	}
	if cmds[0] != "cmd-1" || cmds[len(cmds)-1] != "overflow" {
		t.Errorf("unexpected queue contents: first %q last %q", cmds[0], cmds[len(cmds)-1])
	}
}
