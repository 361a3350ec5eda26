package spc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"spc2mqtt/internal/config"
	"spc2mqtt/internal/logger"
)

// ErrNoSession is returned by callers of GetOrLogin when no usable session
// could be obtained.
var ErrNoSession = errors.New("no panel session available")

const (
	// SessionFileName is the cached session record under the cache dir.
	SessionFileName = "spc_session.json"

	validatePage    = PageHome
	panelToken      = "spc42"
	revalidateDelay = 2 * time.Second
	backoffStart    = 2 * time.Second
	backoffCap      = 60 * time.Second
	jitterFraction  = 0.2
)

var (
	sessionIDPattern  = regexp.MustCompile(`[?&]session=([0-9A-Za-zx]+)`)
	sessionIDFallback = regexp.MustCompile(`secure\.htm\?[^"'>]*session=([0-9A-Za-zx]+)`)
)

// ExtractSessionID pulls the session token out of a URL or response body.
func ExtractSessionID(textOrURL string) string {
	if textOrURL == "" {
		return ""
	}
	if m := sessionIDPattern.FindStringSubmatch(textOrURL); m != nil {
		return m[1]
	}
	if m := sessionIDFallback.FindStringSubmatch(textOrURL); m != nil {
		return m[1]
	}
	return ""
}

// sessionRecord is the on-disk cache: {"session": "<sid>", "time": <unix>}.
type sessionRecord struct {
	Session string  `json:"session"`
	Time    float64 `json:"time"`
}

// LoginObserver gets told about login attempts, for metrics.
type LoginObserver interface {
	LoginAttempt(ok bool)
}

// SessionManager owns session acquisition against the panel: cached session
// reuse, validation, rate-limited re-login with exponential backoff.
//
// GetOrLogin never fails on network errors; it reports an empty session id
// and lets the caller's next tick retry.
type SessionManager struct {
	client      *Client
	sessionFile string
	user        string
	pin         string
	language    string
	minInterval time.Duration
	observer    LoginObserver
	log         *logger.Logger

	mu            sync.Mutex
	lastAttempt   time.Time
	lastLoginFail time.Time
	backoff       time.Duration

	// shortened by tests
	revalidateDelay time.Duration
}

// NewSessionManager wires a manager over the shared client. The cache dir
// already exists (the client created it); an unwritable dir surfaces on the
// first save.
func NewSessionManager(client *Client, cfg config.SPCConfig, observer LoginObserver, log *logger.Logger) *SessionManager {
	return &SessionManager{
		client:          client,
		sessionFile:     filepath.Join(cfg.SessionCacheDir, SessionFileName),
		user:            cfg.User,
		pin:             cfg.Pin,
		language:        strconv.Itoa(cfg.Language),
		minInterval:     cfg.MinLoginInterval(),
		observer:        observer,
		log:             log,
		revalidateDelay: revalidateDelay,
	}
}

// GetOrLogin returns a valid session id, or "" when none can be obtained
// without violating the re-login rate limit.
func (m *SessionManager) GetOrLogin(ctx context.Context) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.loadCache()
	sid := rec.Session

	if sid != "" && m.validate(ctx, sid) {
		return sid
	}

	now := time.Now()
	if m.backoff > 0 && now.Sub(m.lastLoginFail) < m.backoff {
		if !sleepCtx(ctx, m.backoff) {
			return ""
		}
		if sid != "" && m.validate(ctx, sid) {
			return sid
		}
	}

	if m.loginTooRecent(rec) {
		// Inside the min-login window: never log in. Wait briefly and give
		// the cached session one more chance (another process may have
		// refreshed it).
		if !sleepCtx(ctx, m.revalidateDelay) {
			return ""
		}
		if sid != "" && m.validate(ctx, sid) {
			return sid
		}
		return ""
	}

	return m.login(ctx, now)
}

// validate fetches a protected page and checks that the panel did not bounce
// us to the login form.
func (m *SessionManager) validate(ctx context.Context, sid string) bool {
	resp, err := m.client.Get(ctx, PagePath(sid, validatePage))
	if err != nil {
		return false
	}
	low := strings.ToLower(resp.Body)
	if strings.Contains(low, "login.htm") ||
		strings.Contains(low, "mot de passe") ||
		strings.Contains(low, "identifiant") {
		return false
	}
	return strings.Contains(low, panelToken)
}

// loginTooRecent applies the rate limit against both the persisted login
// time and the last in-process attempt, with up to 20% jitter so several
// bridges do not log in at the same instant.
func (m *SessionManager) loginTooRecent(rec sessionRecord) bool {
	last := time.Unix(0, int64(rec.Time*float64(time.Second)))
	if m.lastAttempt.After(last) {
		last = m.lastAttempt
	}
	jitter := time.Duration(rand.Float64() * jitterFraction * float64(m.minInterval))
	return time.Since(last) < m.minInterval+jitter
}

func (m *SessionManager) login(ctx context.Context, now time.Time) string {
	m.lastAttempt = now

	var sid string
	err := m.client.WithFlight(func() error {
		// Seed cookies; a failure here is not fatal.
		if _, err := m.client.Get(ctx, "/login.htm"); err != nil {
			m.log.Debugw("login page fetch failed", "err", err)
		}
		form := url.Values{
			"userid":   {m.user},
			"password": {m.pin},
		}
		resp, err := m.client.PostForm(ctx, "/login.htm?action=login&language="+m.language, form)
		if err != nil {
			return err
		}
		sid = ExtractSessionID(resp.FinalURL)
		if sid == "" {
			sid = ExtractSessionID(resp.Body)
		}
		return nil
	})
	if err != nil {
		m.log.Warnw("panel login failed", "err", err)
	}

	if sid == "" {
		if m.observer != nil {
			m.observer.LoginAttempt(false)
		}
		m.lastLoginFail = now
		if m.backoff == 0 {
			m.backoff = backoffStart
		} else {
			m.backoff = minDuration(m.backoff*2, backoffCap)
		}
		return ""
	}

	if m.observer != nil {
		m.observer.LoginAttempt(true)
	}
	m.lastLoginFail = time.Time{}
	m.backoff = 0
	if err := m.saveCache(sid); err != nil {
		m.log.Errorw("session cache write failed", "err", err)
	}
	m.client.SaveCookies()
	m.log.Infow("panel login succeeded")
	return sid
}

func (m *SessionManager) loadCache() sessionRecord {
	var rec sessionRecord
	data, err := os.ReadFile(m.sessionFile)
	if err != nil {
		return rec
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return sessionRecord{}
	}
	return rec
}

func (m *SessionManager) saveCache(sid string) error {
	rec := sessionRecord{
		Session: sid,
		Time:    float64(time.Now().UnixNano()) / float64(time.Second),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	return atomicWrite(m.sessionFile, data, 0o600)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a <= b {
		return a
	}
	return b
}
