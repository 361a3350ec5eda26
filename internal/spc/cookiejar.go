package spc

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Jar is a persistent cookie jar serialized in the Netscape/Mozilla text
// format, so the cache file stays readable by other tooling. It implements
// http.CookieJar as a (domain, path, name) → attributes mapping and survives
// process restarts; Save rewrites the file atomically.
type Jar struct {
	path string

	mu      sync.Mutex
	cookies map[jarKey]*jarEntry
}

type jarKey struct {
	domain string
	path   string
	name   string
}

type jarEntry struct {
	Domain     string
	IncludeSub bool
	Path       string
	Secure     bool
	Expires    int64 // unix seconds, 0 for session cookies
	Name       string
	Value      string
}

const jarHeader = "# Netscape HTTP Cookie File"

// OpenJar loads the jar at path. A missing file yields an empty jar; a
// corrupt file is deleted and the jar starts empty.
func OpenJar(path string) (*Jar, error) {
	j := &Jar{path: path, cookies: make(map[jarKey]*jarEntry)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, fmt.Errorf("read cookie jar: %w", err)
	}
	if err := j.parse(string(data)); err != nil {
		j.cookies = make(map[jarKey]*jarEntry)
		_ = os.Remove(path)
	}
	return j, nil
}

func (j *Jar) parse(data string) error {
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return fmt.Errorf("cookie line has %d fields", len(fields))
		}
		expires, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return fmt.Errorf("cookie expiry %q: %w", fields[4], err)
		}
		e := &jarEntry{
			Domain:     strings.TrimPrefix(fields[0], "."),
			IncludeSub: fields[1] == "TRUE",
			Path:       fields[2],
			Secure:     fields[3] == "TRUE",
			Expires:    expires,
			Name:       fields[5],
			Value:      fields[6],
		}
		j.cookies[jarKey{e.Domain, e.Path, e.Name}] = e
	}
	return sc.Err()
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		domain := strings.TrimPrefix(c.Domain, ".")
		includeSub := c.Domain != ""
		if domain == "" {
			domain = u.Hostname()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		key := jarKey{domain, path, c.Name}
		if c.MaxAge < 0 {
			delete(j.cookies, key)
			continue
		}
		var expires int64
		switch {
		case c.MaxAge > 0:
			expires = time.Now().Add(time.Duration(c.MaxAge) * time.Second).Unix()
		case !c.Expires.IsZero():
			expires = c.Expires.Unix()
		}
		j.cookies[key] = &jarEntry{
			Domain:     domain,
			IncludeSub: includeSub,
			Path:       path,
			Secure:     c.Secure,
			Expires:    expires,
			Name:       c.Name,
			Value:      c.Value,
		}
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	host := u.Hostname()
	reqPath := u.Path
	if reqPath == "" {
		reqPath = "/"
	}
	now := time.Now().Unix()

	var out []*http.Cookie
	for key, e := range j.cookies {
		if e.Expires > 0 && e.Expires <= now {
			delete(j.cookies, key)
			continue
		}
		if !domainMatch(host, e.Domain, e.IncludeSub) {
			continue
		}
		if !strings.HasPrefix(reqPath, e.Path) {
			continue
		}
		if e.Secure && u.Scheme != "https" {
			continue
		}
		out = append(out, &http.Cookie{Name: e.Name, Value: e.Value})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func domainMatch(host, domain string, includeSub bool) bool {
	if host == domain {
		return true
	}
	return includeSub && strings.HasSuffix(host, "."+domain)
}

// Save writes the jar to disk atomically. Session cookies are persisted too:
// the panel expires them server-side, not by cookie lifetime.
func (j *Jar) Save() error {
	j.mu.Lock()
	entries := make([]*jarEntry, 0, len(j.cookies))
	for _, e := range j.cookies {
		entries = append(entries, e)
	}
	j.mu.Unlock()

	sort.Slice(entries, func(i, k int) bool {
		if entries[i].Domain != entries[k].Domain {
			return entries[i].Domain < entries[k].Domain
		}
		if entries[i].Path != entries[k].Path {
			return entries[i].Path < entries[k].Path
		}
		return entries[i].Name < entries[k].Name
	})

	var b strings.Builder
	b.WriteString(jarHeader + "\n\n")
	for _, e := range entries {
		sub := "FALSE"
		if e.IncludeSub {
			sub = "TRUE"
		}
		secure := "FALSE"
		if e.Secure {
			secure = "TRUE"
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Domain, sub, e.Path, secure, e.Expires, e.Name, e.Value)
	}
	return atomicWrite(j.path, []byte(b.String()), 0o600)
}
