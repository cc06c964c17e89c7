package collab

import (
	"fmt"

	"collabboard-server/core"
)

// ShapeStore is the per-board ordered shape collection. Insertion order is
// z-order. It is not safe for concurrent use on its own; the Registry
// serializes all access behind the owning board's mutex.
type ShapeStore struct {
	shapes []core.Shape
	index  map[string]int
}

func NewShapeStore() *ShapeStore {
	return &ShapeStore{index: make(map[string]int)}
}

// Snapshot returns a copy of the current shape list in z-order.
func (s *ShapeStore) Snapshot() []core.Shape {
	return core.CloneShapes(s.shapes)
}

func (s *ShapeStore) Len() int {
	return len(s.shapes)
}

// Get returns a copy of the shape with the given id.
func (s *ShapeStore) Get(id string) (core.Shape, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.shapes[i].Clone(), true
}

// Add appends a shape. A colliding id is rejected rather than silently
// overwritten so the gateway can surface the error to the sender.
func (s *ShapeStore) Add(shape core.Shape) error {
	id := shape.ID()
	if id == "" {
		return fmt.Errorf("%w: missing id", core.ErrInvalidShape)
	}
	if _, exists := s.index[id]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateShape, id)
	}
	s.index[id] = len(s.shapes)
	s.shapes = append(s.shapes, shape.Clone())
	return nil
}

// Update merges the supplied fields into the existing shape, leaving
// unspecified fields untouched.
func (s *ShapeStore) Update(id string, fields map[string]any) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrShapeNotFound, id)
	}
	s.shapes[i].Merge(fields)
	return nil
}

// Remove deletes the shape with the given id.
func (s *ShapeStore) Remove(id string) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrShapeNotFound, id)
	}
	s.shapes = append(s.shapes[:i], s.shapes[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.shapes); j++ {
		s.index[s.shapes[j].ID()] = j
	}
	return nil
}

// Clear removes every shape.
func (s *ShapeStore) Clear() {
	s.shapes = nil
	s.index = make(map[string]int)
}

// Replace swaps in a full shape list, used when hydrating a board from its
// last durable snapshot.
func (s *ShapeStore) Replace(shapes []core.Shape) {
	s.shapes = core.CloneShapes(shapes)
	s.index = make(map[string]int, len(shapes))
	for i, shape := range s.shapes {
		s.index[shape.ID()] = i
	}
}
