// Package testrand generates small deterministic byte sequences for tests,
// seeded so every run of a test sees the same bytes instead of a flaky
// one-off byte slice.
package testrand

import "math/rand"

// Source wraps a seeded *rand.Rand with the name/key/value generators the
// overlay and overlaydb test suites need.
type Source struct {
	r *rand.Rand
}

// New returns a Source seeded with seed. The same seed always produces the
// same sequence of names/keys/values.
func New(seed int64) *Source {
	return &Source{r: rand.New(rand.NewSource(seed))}
}

// Bytes returns a pseudo-random byte slice of length n.
func (s *Source) Bytes(n int) []byte {
	b := make([]byte, n)
	s.r.Read(b)
	return b
}

// Key returns a short pseudo-random key, typically 1-16 bytes.
func (s *Source) Key() string {
	n := 1 + s.r.Intn(16)
	return string(s.Bytes(n))
}

// Value returns a pseudo-random value, typically 0-64 bytes.
func (s *Source) Value() []byte {
	n := s.r.Intn(65)
	return s.Bytes(n)
}

// Name returns a pseudo-random tree name drawn from a small alphabet, so
// tests exercise name collisions and ordering rather than producing all
// distinct single-use names.
func (s *Source) Name() string {
	const alphabet = "abcdefghij"
	n := 1 + s.r.Intn(3)
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[s.r.Intn(len(alphabet))]
	}
	return "_tree_" + string(b)
}
