// Package memory contains an in-memory content sink for tests and
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Sink stores uploaded content in a map keyed by path.
type Sink struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{objects: make(map[string][]byte)}
}

// Put records the content under path and returns a mem:// URI.
func (s *Sink) Put(_ context.Context, path string, content []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), content...)
	return fmt.Sprintf("mem://%s", path), nil
}

// Get returns the content stored under path.
func (s *Sink) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), content...), true
}

// Len reports the number of stored objects.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
