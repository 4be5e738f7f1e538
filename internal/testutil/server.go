package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ReleaseServer serves fixed files over HTTP and counts requests.
type ReleaseServer struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	requests map[string]int
	agents   []string
}

// NewReleaseServer starts a server that is closed when the test ends.
func NewReleaseServer(t testing.TB) *ReleaseServer {
	t.Helper()

	s := &ReleaseServer{
		files:    make(map[string][]byte),
		requests: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *ReleaseServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests[r.URL.Path]++
	s.agents = append(s.agents, r.UserAgent())
	body, ok := s.files[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(body)
}

// Add publishes data at path (which must start with "/") and returns its URL.
func (s *ReleaseServer) Add(path string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
	return s.URL + path
}

// Remove unpublishes path.
func (s *ReleaseServer) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
}

// Requests returns the number of requests for path.
func (s *ReleaseServer) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// TotalRequests returns the number of requests served.
func (s *ReleaseServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.requests {
		n += c
	}
	return n
}

// UserAgents returns the User-Agent of every request in order.
func (s *ReleaseServer) UserAgents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.agents...)
}
