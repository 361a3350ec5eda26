package spc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"spc2mqtt/internal/config"
	"spc2mqtt/internal/logger"
)

func TestExtractSessionID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://panel/secure.htm?session=abc123&page=spc_home", "abc123"},
		{"http://panel/secure.htm?page=x&session=0xDEAD", "0xDEAD"},
		{`<a href="secure.htm?page=spc_home&session=fa11back">home</a>`, "fa11back"},
		{"no session here", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := ExtractSessionID(c.in); got != c.want {
			t.Errorf("ExtractSessionID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// panelStub simulates the SPC web UI: a login endpoint issuing a session id
// via redirect, and a protected page whose body decides validity.
type panelStub struct {
	loginPosts  atomic.Int64
	validBody   atomic.Bool
	sid         string
	securePage  string
	invalidPage string
}

func newPanelStub() *panelStub {
	s := &panelStub{
		sid:         "abc123",
		securePage:  "<html><body>spc42 home<table></table></body></html>",
		invalidPage: `<html><body><form action="login.htm">identifiant / mot de passe</form></body></html>`,
	}
	s.validBody.Store(true)
	return s
}

func (s *panelStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login.htm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			s.loginPosts.Add(1)
			http.Redirect(w, r, "/secure.htm?session="+s.sid+"&page=spc_home", http.StatusFound)
			return
		}
		w.Write([]byte("<html>login form</html>"))
	})
	mux.HandleFunc("/secure.htm", func(w http.ResponseWriter, r *http.Request) {
		if s.validBody.Load() && r.URL.Query().Get("session") == s.sid {
			w.Write([]byte(s.securePage))
			return
		}
		w.Write([]byte(s.invalidPage))
	})
	return mux
}

func (s *panelStub) logins() int64 { return s.loginPosts.Load() }

func newTestManager(t *testing.T, host string, minInterval int) *SessionManager {
	t.Helper()
	log := logger.Nop()
	client, err := NewClient(host, t.TempDir(), log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	m := NewSessionManager(client, config.SPCConfig{
		Host:                host,
		User:                "user",
		Pin:                 "1234",
		Language:            253,
		SessionCacheDir:     t.TempDir(),
		MinLoginIntervalSec: minInterval,
	}, nil, log)
	m.revalidateDelay = 10 * time.Millisecond
	return m
}

func TestGetOrLoginColdStart(t *testing.T) {
	stub := newPanelStub()
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL, 60)
	sid := m.GetOrLogin(context.Background())
	if sid != "abc123" {
		t.Fatalf("GetOrLogin = %q, want abc123", sid)
	}
	if stub.logins() != 1 {
		t.Fatalf("expected exactly 1 login POST, got %d", stub.logins())
	}

	// The cached session must be reused without another login.
	sid = m.GetOrLogin(context.Background())
	if sid != "abc123" {
		t.Fatalf("cached GetOrLogin = %q", sid)
	}
	if stub.logins() != 1 {
		t.Fatalf("cached session triggered another login: %d", stub.logins())
	}
}

func TestGetOrLoginRateLimit(t *testing.T) {
	stub := newPanelStub()
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL, 3600)
	if sid := m.GetOrLogin(context.Background()); sid == "" {
		t.Fatal("initial login failed")
	}

	// The panel now rejects the session. Inside the min-login window the
	// manager must back off instead of logging in again.
	stub.validBody.Store(false)
	sid := m.GetOrLogin(context.Background())
	if sid != "" {
		t.Fatalf("expected empty sid inside the login window, got %q", sid)
	}
	if stub.logins() != 1 {
		t.Fatalf("re-login inside the window: %d POSTs", stub.logins())
	}
}

func TestGetOrLoginRecoversAfterWindow(t *testing.T) {
	stub := newPanelStub()
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	// Zero interval: a failed validation may log in immediately.
	m := newTestManager(t, srv.URL, 0)
	if sid := m.GetOrLogin(context.Background()); sid == "" {
		t.Fatal("initial login failed")
	}

	stub.sid = "def456"
	stub.validBody.Store(true)
	sid := m.GetOrLogin(context.Background())
	if sid != "def456" {
		t.Fatalf("expected re-login to pick up new sid, got %q", sid)
	}
	if stub.logins() != 2 {
		t.Fatalf("expected 2 login POSTs, got %d", stub.logins())
	}
}

func TestGetOrLoginPanelDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // dead endpoint

	m := newTestManager(t, srv.URL, 0)
	if sid := m.GetOrLogin(context.Background()); sid != "" {
		t.Fatalf("expected empty sid on network error, got %q", sid)
	}
}

func TestGetOrLoginHonorsCancel(t *testing.T) {
	stub := newPanelStub()
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL, 3600)
	if sid := m.GetOrLogin(context.Background()); sid == "" {
		t.Fatal("initial login failed")
	}
	stub.validBody.Store(false)
	m.revalidateDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan string, 1)
	go func() { done <- m.GetOrLogin(ctx) }()
	cancel()

	select {
	case sid := <-done:
		if sid != "" {
			t.Fatalf("expected empty sid after cancel, got %q", sid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetOrLogin did not return after cancel")
	}
}
