package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"framecut/internal/logging"
)

// PathPrefix is the URL path under which the store serves blobs.
const PathPrefix = "/artifacts/"

// DefaultReleaseGrace is the delay between Release and the blob disappearing.
const DefaultReleaseGrace = time.Second

// StoreOptions configures a Store.
type StoreOptions struct {
	// BaseURL is prepended to issued URLs, e.g. "http://127.0.0.1:7490".
	// Empty yields root-relative URLs.
	BaseURL string
	// ReleaseGrace defers deletion after Release. Zero uses the default;
	// negative deletes immediately.
	ReleaseGrace time.Duration
	Logger       *slog.Logger
}

type blob struct {
	name      string
	mediaType string
	data      []byte
	created   time.Time
}

// Store holds materialized bytes and serves them over HTTP.
type Store struct {
	baseURL string
	grace   time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	blobs   map[string]*blob
	pending map[string]*time.Timer
	closed  bool
}

// NewStore returns an empty store.
func NewStore(opts StoreOptions) *Store {
	grace := opts.ReleaseGrace
	if grace == 0 {
		grace = DefaultReleaseGrace
	}
	return &Store{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		grace:   grace,
		logger:  logging.NewComponentLogger(opts.Logger, "artifact"),
		blobs:   make(map[string]*blob),
		pending: make(map[string]*time.Timer),
	}
}

// Put registers data under id/name and returns its URL. The store keeps the
// slice as given; callers hand over copies.
func (s *Store) Put(id, name, mediaType string, data []byte) string {
	key := blobKey(id, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.blobs[key] = &blob{name: name, mediaType: mediaType, data: data, created: time.Now()}
	}
	return s.baseURL + PathPrefix + url.PathEscape(id) + "/" + url.PathEscape(name)
}

// Release schedules the blob behind rawURL for deletion after the grace
// delay. It reports whether the URL was known.
func (s *Store) Release(rawURL string) bool {
	key, ok := s.keyFromURL(rawURL)
	if !ok {
		return false
	}
	return s.releaseKeys([]string{key}) == 1
}

// ReleaseResult schedules every URL of r for deletion.
func (s *Store) ReleaseResult(r *Result) int {
	if r == nil {
		return 0
	}
	keys := make([]string, 0, len(r.Frames)+1)
	if r.URL != "" {
		keys = append(keys, blobKey(r.ID, r.Filename))
	}
	for _, f := range r.Frames {
		keys = append(keys, blobKey(r.ID, f.Name))
	}
	return s.releaseKeys(keys)
}

// ReleaseID schedules every blob registered under the result id for deletion.
func (s *Store) ReleaseID(id string) int {
	prefix := id + "/"
	s.mu.RLock()
	keys := make([]string, 0)
	for key := range s.blobs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	s.mu.RUnlock()
	return s.releaseKeys(keys)
}

func (s *Store) releaseKeys(keys []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for _, key := range keys {
		if _, ok := s.blobs[key]; !ok {
			continue
		}
		released++
		if s.grace < 0 {
			delete(s.blobs, key)
			continue
		}
		if _, scheduled := s.pending[key]; scheduled {
			continue
		}
		s.pending[key] = time.AfterFunc(s.grace, func() { s.drop(key) })
	}
	return released
}

func (s *Store) drop(key string) {
	s.mu.Lock()
	delete(s.blobs, key)
	delete(s.pending, key)
	s.mu.Unlock()
	s.logger.Debug("artifact released", logging.String("key", key))
}

// Len reports the number of live blobs, including ones pending release.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Close drops every blob and cancels pending releases.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, timer := range s.pending {
		timer.Stop()
		delete(s.pending, key)
	}
	clear(s.blobs)
	s.closed = true
}

// ServeHTTP serves GET and HEAD for PathPrefix + "{id}/{name}".
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key, ok := s.keyFromPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.mu.RLock()
	b := s.blobs[key]
	s.mu.RUnlock()
	if b == nil {
		http.NotFound(w, r)
		return
	}

	size := int64(len(b.data))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", b.mediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", b.name))

	rng, err := parseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if err != nil || rng == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(b.data)
		}
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(rng.length(), 10))
	w.Header().Set("Content-Range", rng.contentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodGet {
		_, _ = w.Write(b.data[rng.Start : rng.End+1])
	}
}

func (s *Store) keyFromURL(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	return s.keyFromPath(parsed.Path)
}

func (s *Store) keyFromPath(p string) (string, bool) {
	rest, ok := strings.CutPrefix(path.Clean(p), PathPrefix)
	if !ok {
		return "", false
	}
	id, name, ok := strings.Cut(rest, "/")
	if !ok || id == "" || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return blobKey(id, name), true
}

func blobKey(id, name string) string {
	return id + "/" + name
}
