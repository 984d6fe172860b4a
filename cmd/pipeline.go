package cmd

import (
	"context"
	"fmt"

	"github.com/zjrosen/reshuffle/internal/config"
	"github.com/zjrosen/reshuffle/internal/dispatch"
	"github.com/zjrosen/reshuffle/internal/log"
	"github.com/zjrosen/reshuffle/internal/sections"
	"github.com/zjrosen/reshuffle/internal/tracing"
)

// pipeline bundles a dispatcher with the tracing provider it reports to.
type pipeline struct {
	dispatcher *dispatch.Dispatcher
	tracing    *tracing.Provider
}

func newPipeline(c config.Config) (*pipeline, error) {
	tc := c.Tracing
	if tc.FilePath == "" {
		tc.FilePath = config.DefaultTracesFilePath()
	}
	provider, err := tracing.NewProvider(tc)
	if err != nil {
		return nil, fmt.Errorf("creating trace provider: %w", err)
	}

	var gen sections.Generator = sections.NewGenerator()
	if c.Generator.FailAfter > 0 {
		log.Warn(log.CatGen, "Failure injection enabled", "after", c.Generator.FailAfter)
		gen = sections.NewFailingGenerator(gen, c.Generator.FailAfter)
	}

	opts := []dispatch.Option{dispatch.WithTracer(provider.Tracer())}
	if c.Generator.Validate {
		opts = append(opts, dispatch.WithValidator(sections.CheckShape))
	}

	return &pipeline{
		dispatcher: dispatch.New(gen, opts...),
		tracing:    provider,
	}, nil
}

func (p *pipeline) shutdown(ctx context.Context) {
	p.dispatcher.Cancel()
	if err := p.tracing.Shutdown(ctx); err != nil {
		log.Warn(log.CatTrace, "Trace provider shutdown failed", "error", err)
	}
}
