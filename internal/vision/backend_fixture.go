package vision

import "fmt"

// Default fixture outputs, one per domain.
var defaultFixtures = map[Domain][]float32{
	DomainAge:        {0.1, 0.2, 0.4, 0.1, 0.1, 0.05, 0.05},
	DomainGender:     {0.3, 0.7},
	DomainExpression: {0.1, 0.05, 0.05, 0.5, 0.1, 0.1, 0.1},
}

// FixtureBackend returns the same probability vector for every input.
// It stands in for a real model in tests and development setups.
type FixtureBackend struct {
	probs []float32
}

// NewFixtureBackend returns a backend that always answers probs.
func NewFixtureBackend(probs []float32) *FixtureBackend {
	cp := make([]float32, len(probs))
	copy(cp, probs)
	return &FixtureBackend{probs: cp}
}

// DefaultFixture returns the built-in fixture vector for d.
func DefaultFixture(d Domain) ([]float32, error) {
	probs, ok := defaultFixtures[d]
	if !ok {
		return nil, fmt.Errorf("no fixture for domain %q", d)
	}
	cp := make([]float32, len(probs))
	copy(cp, probs)
	return cp, nil
}

func (b *FixtureBackend) Run(input []float32) ([]float32, error) {
	out := make([]float32, len(b.probs))
	copy(out, b.probs)
	return out, nil
}

func (b *FixtureBackend) Close() error { return nil }
