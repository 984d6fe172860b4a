package sections

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

// ErrGeneration is the single failure class of section generation.
var ErrGeneration = errors.New("section generation failed")

// Generator produces a new SectionList for one trigger.
type Generator interface {
	Generate(ctx context.Context) (SectionList, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context) (SectionList, error)

// Generate calls f(ctx).
func (f GeneratorFunc) Generate(ctx context.Context) (SectionList, error) {
	return f(ctx)
}

// ShuffleFunc permutes n elements in place through swap, with the same
// contract as rand.Shuffle.
type ShuffleFunc func(n int, swap func(i, j int))

// Option configures a ShuffleGenerator.
type Option func(*ShuffleGenerator)

// WithShuffler replaces the random permutation source.
func WithShuffler(fn ShuffleFunc) Option {
	return func(g *ShuffleGenerator) {
		if fn != nil {
			g.shuffle = fn
		}
	}
}

// ShuffleGenerator builds the String and Int sections with independently
// shuffled rows and then shuffles the section order. It keeps no reference
// to the lists it returns.
type ShuffleGenerator struct {
	shuffle ShuffleFunc
}

// NewGenerator creates a generator backed by the global math/rand/v2 source.
func NewGenerator(opts ...Option) *ShuffleGenerator {
	g := &ShuffleGenerator{shuffle: rand.Shuffle}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a fresh SectionList. It only fails when ctx is already done.
func (g *ShuffleGenerator) Generate(ctx context.Context) (SectionList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	strItems := make([]RowItem, 0, 3)
	for _, r := range StringRows() {
		strItems = append(strItems, r)
	}
	g.shuffleItems(strItems)

	intItems := make([]RowItem, 0, 3)
	for _, r := range IntRows() {
		intItems = append(intItems, r)
	}
	g.shuffleItems(intItems)

	list := SectionList{
		{Title: StringSectionTitle, Items: strItems},
		{Title: IntSectionTitle, Items: intItems},
	}
	g.shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	return list, nil
}

func (g *ShuffleGenerator) shuffleItems(items []RowItem) {
	g.shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}

// FailingGenerator wraps a Generator for fault injection. The first After
// calls are delegated to Inner; every later call fails with ErrGeneration.
type FailingGenerator struct {
	Inner Generator
	After int

	mu    sync.Mutex
	calls int
}

// NewFailingGenerator wraps inner so that call number after+1 and later fail.
func NewFailingGenerator(inner Generator, after int) *FailingGenerator {
	return &FailingGenerator{Inner: inner, After: after}
}

// Generate delegates to Inner until the failure threshold is reached.
func (f *FailingGenerator) Generate(ctx context.Context) (SectionList, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if n > f.After {
		return nil, fmt.Errorf("%w: injected failure on call %d", ErrGeneration, n)
	}
	return f.Inner.Generate(ctx)
}
