package core

// Shape is one drawable object on a board. Clients send shapes as loose
// JSON objects whose attribute set varies by variant (rectangle, circle,
// line, arrow, scribble, polygon, star, text, image), so shapes are kept
// as maps and round-trip through JSON untouched. Only "id" and "type" are
// interpreted server-side; "id" is immutable once created.
type Shape map[string]any

// ID returns the caller-supplied shape identifier, or "" if missing.
func (s Shape) ID() string {
	id, _ := s["id"].(string)
	return id
}

// Type returns the shape variant discriminant, or "" if missing.
func (s Shape) Type() string {
	t, _ := s["type"].(string)
	return t
}

// Clone returns a shallow copy. Attribute values are copied by reference;
// mutation paths always replace values rather than editing them in place.
func (s Shape) Clone() Shape {
	c := make(Shape, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Merge applies a partial update, leaving unspecified fields untouched.
// The shape id is immutable and never overwritten.
func (s Shape) Merge(fields map[string]any) {
	for k, v := range fields {
		if k == "id" {
			continue
		}
		s[k] = v
	}
}

// CloneShapes copies a shape list so callers can hand it out without
// exposing live store state.
func CloneShapes(shapes []Shape) []Shape {
	out := make([]Shape, len(shapes))
	for i, s := range shapes {
		out[i] = s.Clone()
	}
	return out
}
