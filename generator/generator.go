// Package generator hides protocol differences across LLM providers
// behind one call shape, per spec.md §6 "Generator adapter (inbound to
// core)". The core treats Generator as an opaque function; it never
// inspects provider-specific response shapes itself.
package generator

import (
	"context"
	"fmt"
	"time"
)

// Result is what a Generator returns for one call.
type Result struct {
	Content string
	Latency time.Duration
}

// Generator is implemented once per provider family. The core never
// calls a concrete type directly; it always goes through a Registry.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, parameters map[string]any) (Result, error)
}

// ErrUnknownProvider is returned by Registry.Get for an unregistered
// provider id. Per Design Notes §9, dynamic dispatch over providers
// must fail fast on an unknown id rather than silently no-op.
type ErrUnknownProvider struct {
	Provider string
}

func (e ErrUnknownProvider) Error() string {
	return fmt.Sprintf("generator: unknown provider %q", e.Provider)
}

// Registry maps a provider id to its concrete Generator, mirroring
// Design Notes §9's "interface/trait with one method generate(...),
// and a registry mapping provider-id to concrete implementation."
type Registry struct {
	byProvider map[string]Generator
}

// NewRegistry builds a Registry from a provider-id -> Generator map.
func NewRegistry(providers map[string]Generator) *Registry {
	byProvider := make(map[string]Generator, len(providers))
	for id, g := range providers {
		byProvider[id] = g
	}
	return &Registry{byProvider: byProvider}
}

// Get returns the Generator registered for provider, or
// ErrUnknownProvider if none is registered.
func (r *Registry) Get(provider string) (Generator, error) {
	g, ok := r.byProvider[provider]
	if !ok {
		return nil, ErrUnknownProvider{Provider: provider}
	}
	return g, nil
}

// Generate looks up provider in the registry and calls it. It is a
// convenience wrapper so callers that already have a Registry don't
// need a two-step Get-then-call.
func (r *Registry) Generate(ctx context.Context, provider, model, prompt string, parameters map[string]any) (Result, error) {
	g, err := r.Get(provider)
	if err != nil {
		return Result{}, err
	}
	return g.Generate(ctx, model, prompt, parameters)
}
