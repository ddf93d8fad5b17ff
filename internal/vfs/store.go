package vfs

import (
	"fmt"
	"sync"
)

// Layer identifies which layer of the store a path lives in.
type Layer int

const (
	// LayerOverlay is the writable in-memory layer.
	LayerOverlay Layer = iota
	// LayerRemote is the read-only layer populated by the fetcher.
	LayerRemote
)

// NotFoundError is returned by Read when a path exists in neither layer.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("file not found in store: %s", e.Path)
}

// Store is the two-layer virtual file store. The overlay shadows the remote
// layer; the remote layer is populated out-of-band by the fetcher.
type Store struct {
	overlay sync.Map // Key: path string, Value: []byte
	remote  sync.Map // Key: path string, Value: []byte

	gate *Gate
}

// New creates an empty store with an unsettled remote-layer gate.
func New() *Store {
	return &Store{gate: NewGate()}
}

// Gate returns the one-shot gate guarding remote-layer initialization.
func (s *Store) Gate() *Gate {
	return s.gate
}

// Exists reports whether the path is present in either layer.
func (s *Store) Exists(path string) bool {
	if _, ok := s.overlay.Load(path); ok {
		return true
	}
	_, ok := s.remote.Load(path)
	return ok
}

// Read returns the content for path, checking the overlay first. A miss on
// both layers returns NotFoundError; it never triggers a fetch.
func (s *Store) Read(path string) ([]byte, error) {
	if content, ok := s.overlay.Load(path); ok {
		return content.([]byte), nil
	}
	if content, ok := s.remote.Load(path); ok {
		return content.([]byte), nil
	}
	return nil, &NotFoundError{Path: path}
}

// Write stores content under path in the writable overlay. It always
// succeeds and shadows any remote-layer entry for the same path.
func (s *Store) Write(path string, content []byte) {
	s.overlay.Store(path, content)
}

// WriteRemote stores content under path in the remote-backed layer. Only the
// fetcher and the project mirror should call this.
func (s *Store) WriteRemote(path string, content []byte) {
	s.remote.Store(path, content)
}

// LayerOf reports which layer currently serves the path.
func (s *Store) LayerOf(path string) (Layer, bool) {
	if _, ok := s.overlay.Load(path); ok {
		return LayerOverlay, true
	}
	if _, ok := s.remote.Load(path); ok {
		return LayerRemote, true
	}
	return 0, false
}

// Reset drops both layers and replaces the gate, forcing the next compile to
// re-initialize the remote layer. Entries are never deleted outside of this.
func (s *Store) Reset() {
	s.overlay.Clear()
	s.remote.Clear()
	s.gate = NewGate()
}
