package testhelpers

import (
	"fmt"
	"sync"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/classfile"
)

// MapSource is an in-memory hierarchy.ClassSource backed by serialized class
// bytes. Safe for concurrent lookups.
type MapSource struct {
	mu      sync.RWMutex
	classes map[string][]byte
}

// NewMapSource creates an empty source.
func NewMapSource() *MapSource {
	return &MapSource{classes: make(map[string][]byte)}
}

// Add serializes a class node and registers it under its internal name.
// Panics on encoding failure; builder-produced classes always encode.
func (s *MapSource) Add(node *bytecode.ClassNode) *MapSource {
	data, err := classfile.Write(node)
	if err != nil {
		panic(fmt.Sprintf("testhelpers: cannot encode %s: %v", node.Name, err))
	}
	return s.AddBytes(node.Name, data)
}

// AddBytes registers raw class bytes under a name.
func (s *MapSource) AddBytes(name string, data []byte) *MapSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[name] = data
	return s
}

// ClassBytes implements hierarchy.ClassSource.
func (s *MapSource) ClassBytes(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.classes[name]
	if !ok {
		return nil, fmt.Errorf("class %s not found", name)
	}
	return data, nil
}
