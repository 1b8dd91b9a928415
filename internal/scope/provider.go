package scope

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	dErrors "afterimage/pkg/domain-errors"
	"afterimage/pkg/requestcontext"
)

// Provider resolves an actor identifier to its scope.
type Provider interface {
	ScopeOf(ctx context.Context, actor string) (ActorScope, error)
}

// Directory is a static actor -> tier table, typically loaded from YAML.
type Directory struct {
	mu    sync.RWMutex
	tiers map[string]Tier
}

// NewDirectory builds a directory from a map, rejecting unknown tiers.
func NewDirectory(tiers map[string]Tier) (*Directory, error) {
	d := &Directory{tiers: make(map[string]Tier, len(tiers))}
	for actor, tier := range tiers {
		if err := d.Set(actor, tier); err != nil {
			return nil, err
		}
	}
	return d, nil
}

type directoryFile struct {
	Actors map[string]string `yaml:"actors"`
}

// LoadDirectory reads a YAML document of the form `actors: {alice: K6}`.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read actor directory %s: %w", path, err)
	}
	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse actor directory: %w", err)
	}
	tiers := make(map[string]Tier, len(f.Actors))
	for actor, raw := range f.Actors {
		t, err := ParseTier(raw)
		if err != nil {
			return nil, fmt.Errorf("actor %s: %w", actor, err)
		}
		tiers[actor] = t
	}
	return NewDirectory(tiers)
}

// Set assigns a tier to an actor.
func (d *Directory) Set(actor string, tier Tier) error {
	if actor == "" {
		return fmt.Errorf("actor is required")
	}
	if !tier.IsValid() {
		return fmt.Errorf("actor %s: unknown tier %q", actor, tier)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tiers[actor] = tier
	return nil
}

// ScopeOf returns the actor's scope. Unknown actors are Forbidden.
func (d *Directory) ScopeOf(_ context.Context, actor string) (ActorScope, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tiers[actor]
	if !ok {
		return ActorScope{}, dErrors.New(dErrors.CodeForbidden, "actor has no scope")
	}
	return ActorScope{Actor: actor, Tier: t}, nil
}

// ClaimsProvider trusts the tier carried by the authenticated request (a
// verified token claim) and falls back to another provider otherwise.
type ClaimsProvider struct {
	fallback Provider
}

func NewClaimsProvider(fallback Provider) *ClaimsProvider {
	return &ClaimsProvider{fallback: fallback}
}

func (p *ClaimsProvider) ScopeOf(ctx context.Context, actor string) (ActorScope, error) {
	if requestcontext.Actor(ctx) == actor {
		if raw := requestcontext.ActorTier(ctx); raw != "" {
			t, err := ParseTier(raw)
			if err != nil {
				return ActorScope{}, dErrors.New(dErrors.CodeForbidden, "token carries an unknown tier")
			}
			return ActorScope{Actor: actor, Tier: t}, nil
		}
	}
	if p.fallback == nil {
		return ActorScope{}, dErrors.New(dErrors.CodeForbidden, "actor has no scope")
	}
	return p.fallback.ScopeOf(ctx, actor)
}
