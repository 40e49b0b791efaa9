package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "caldnd/internal/log"
)

// cacheEntry holds HTTP validators for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves ICS documents. HTTP(S) feeds are fetched with
// conditional requests (ETag / Last-Modified) backed by a disk cache so an
// unchanged feed is not downloaded again. file:// URLs and plain paths are
// read from disk.
//
// A failed fetch is always an error: the cache is only used to answer
// 304 Not Modified, never to hide an unreachable feed.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher. If cacheDir is empty, conditional requests
// are disabled and every fetch downloads the full body.
func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
	}
}

// WithClient replaces the HTTP client, mainly for tests.
func (f *Fetcher) WithClient(c *http.Client) *Fetcher {
	f.client = c
	return f
}

// Fetch returns the raw ICS document behind feed.
func (f *Fetcher) Fetch(ctx context.Context, feed string) ([]byte, error) {
	feed = strings.TrimSpace(feed)
	if feed == "" {
		return nil, errors.New("feed address is empty")
	}

	u, err := url.Parse(feed)
	if err != nil || u.Scheme == "" {
		return f.readFile(feed)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return f.readFile(u.Path)
	case "webcal":
		u.Scheme = "https"
		return f.fetchHTTP(ctx, u.String())
	case "http", "https":
		return f.fetchHTTP(ctx, feed)
	default:
		return nil, fmt.Errorf("unsupported feed scheme %q", u.Scheme)
	}
}

func (f *Fetcher) readFile(path string) ([]byte, error) {
	appLog.Info("ics read file", "path", path)
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed file: %w", err)
	}
	return body, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, feedURL string) ([]byte, error) {
	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(feedURL)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return nil, err
		}
		meta, _ = f.loadCacheMeta(cachePath)
		cachedBody, _ = f.loadCacheBody(cachePath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	// Validators are only sent when there is a body to fall back on.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("ics fetch start", "url", redactURL(feedURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("read feed body: %w", readErr)
		}

		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          feedURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := f.saveCache(cachePath, newMeta, body); err != nil {
				appLog.Error("ics cache save failed", err, "url", redactURL(feedURL))
			}
		}

		appLog.Info("ics fetch success", "url", redactURL(feedURL), "status", resp.StatusCode, "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("ics fetch not modified; using cache", "url", redactURL(feedURL))
		return cachedBody, nil

	default:
		return nil, fmt.Errorf("fetch feed: unexpected status %s", resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	// First 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host. Calendar feed URLs usually embed a
// private token in the path or query.
//
//	https://example.com/private/abcd/basic.ics -> https://example.com/...(redacted)
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}

// RedactURL is redactURL for callers outside the package.
func RedactURL(u string) string {
	return redactURL(u)
}
