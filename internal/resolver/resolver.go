// Package resolver produces the client and server build configurations from
// the override file and the config factory.
package resolver

import (
	"fmt"
	"log/slog"

	"github.com/tuanbt/razzle/internal/buildconfig"
	"github.com/tuanbt/razzle/internal/config"
	"github.com/tuanbt/razzle/internal/engine"
	"github.com/tuanbt/razzle/internal/manifest"
	"github.com/tuanbt/razzle/internal/paths"
)

// ModifyOptions is passed to a Modifier.
type ModifyOptions struct {
	Target string
	Dev    bool
}

// Modifier transforms a base configuration. Its result replaces the base
// configuration unchecked: a nil or invalid result fails at engine construction.
type Modifier func(cfg *buildconfig.Config, opts ModifyOptions, eng engine.Engine) (*buildconfig.Config, error)

// Result is the output of Resolve.
type Result struct {
	Client   *buildconfig.Config
	Server   *buildconfig.Config
	Override *config.Razzle

	// OverridePath is the override file that was loaded, or "".
	OverridePath string
}

// Resolver loads the override file and builds both target configurations.
type Resolver struct {
	paths   paths.Paths
	engine  engine.Engine
	logger  *slog.Logger
	factory buildconfig.Factory
	modify  Modifier
	lookup  func(string) (string, bool)
	environ []string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFactory replaces buildconfig.Create.
func WithFactory(f buildconfig.Factory) Option {
	return func(r *Resolver) { r.factory = f }
}

// WithModifier installs a Go modifier. It runs after the override file's
// declarative modify section.
func WithModifier(m Modifier) Option {
	return func(r *Resolver) { r.modify = m }
}

// WithEnv replaces the process environment seen by the factory.
func WithEnv(lookup func(string) (string, bool), environ []string) Option {
	return func(r *Resolver) {
		r.lookup = lookup
		r.environ = environ
	}
}

// New creates a Resolver.
func New(p paths.Paths, eng engine.Engine, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		paths:   p,
		engine:  eng,
		logger:  logger,
		factory: buildconfig.Create,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve loads the override file, removes the stale manifest and returns the
// development configuration of both targets.
// A broken override file returns *config.LoadError before any configuration
// is created.
func (r *Resolver) Resolve() (*Result, error) {
	res := &Result{Override: config.Default()}

	if path := r.paths.RazzleConfig(); path != "" {
		override, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		res.Override = override
		res.OverridePath = path
		r.logger.Debug("loaded override file", "path", path)
	}

	if err := manifest.Remove(r.paths.AppManifest); err != nil {
		return nil, err
	}

	fopts := buildconfig.Options{
		Paths:    r.paths,
		Override: res.Override,
		Lookup:   r.lookup,
		Environ:  r.environ,
	}

	var err error
	if res.Client, err = r.create(buildconfig.TargetWeb, fopts); err != nil {
		return nil, err
	}
	if res.Server, err = r.create(buildconfig.TargetNode, fopts); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Resolver) create(target string, fopts buildconfig.Options) (*buildconfig.Config, error) {
	cfg, err := r.factory(target, true, fopts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s config: %w", target, err)
	}

	mopts := ModifyOptions{Target: target, Dev: true}
	for _, m := range []Modifier{PatchModifier(fopts.Override), r.modify} {
		if m == nil {
			continue
		}
		if cfg, err = m(cfg, mopts, r.engine); err != nil {
			return nil, fmt.Errorf("failed to modify %s config: %w", target, err)
		}
	}
	return cfg, nil
}

// PatchModifier applies the override file's declarative modify section.
// It returns nil when the section is empty.
func PatchModifier(override *config.Razzle) Modifier {
	if override == nil || len(override.Modify) == 0 {
		return nil
	}
	return func(cfg *buildconfig.Config, opts ModifyOptions, _ engine.Engine) (*buildconfig.Config, error) {
		p, ok := override.Patch(opts.Target)
		if !ok || cfg == nil {
			return cfg, nil
		}
		if err := buildconfig.Apply(cfg, p); err != nil {
			return nil, err
		}
		return cfg, nil
	}
}
