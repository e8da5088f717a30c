package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuanbt/razzle/internal/buildconfig"
	"github.com/tuanbt/razzle/internal/config"
	"github.com/tuanbt/razzle/internal/engine"
	"github.com/tuanbt/razzle/internal/logger"
	"github.com/tuanbt/razzle/internal/paths"
)

func setup(t *testing.T) paths.Paths {
	t.Helper()
	p, err := paths.Resolve(t.TempDir())
	require.NoError(t, err)
	return p
}

func emptyEnv() Option {
	return WithEnv(func(string) (string, bool) { return "", false }, []string{})
}

// countingFactory records the targets it was asked for.
type countingFactory struct {
	targets []string
}

func (f *countingFactory) create(target string, dev bool, opts buildconfig.Options) (*buildconfig.Config, error) {
	f.targets = append(f.targets, target)
	return buildconfig.Create(target, dev, opts)
}

func TestResolveDefaults(t *testing.T) {
	p := setup(t)
	factory := &countingFactory{}

	res, err := New(p, nil, logger.Discard(), WithFactory(factory.create), emptyEnv()).Resolve()
	require.NoError(t, err)

	require.Equal(t, []string{buildconfig.TargetWeb, buildconfig.TargetNode}, factory.targets)
	require.Equal(t, buildconfig.NameClient, res.Client.Name)
	require.Equal(t, buildconfig.NameServer, res.Server.Name)
	require.Empty(t, res.OverridePath)
	require.Equal(t, config.Default(), res.Override)
}

func TestResolveRemovesManifest(t *testing.T) {
	p := setup(t)
	require.NoError(t, os.MkdirAll(p.AppBuild, 0755))
	require.NoError(t, os.WriteFile(p.AppManifest, []byte(`{"client":{}}`), 0644))

	_, err := New(p, nil, logger.Discard(), emptyEnv()).Resolve()
	require.NoError(t, err)

	_, err = os.Stat(p.AppManifest)
	require.True(t, os.IsNotExist(err), "stale manifest must be removed")
}

func TestResolveInvalidOverrideStopsBeforeFactory(t *testing.T) {
	p := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.AppPath, "razzle.config.yaml"), []byte("port: [oops"), 0644))
	factory := &countingFactory{}

	_, err := New(p, nil, logger.Discard(), WithFactory(factory.create), emptyEnv()).Resolve()

	var loadErr *config.LoadError
	require.True(t, errors.As(err, &loadErr))
	require.Empty(t, factory.targets, "no build configs may be constructed")
}

func TestResolveAppliesDeclarativeModify(t *testing.T) {
	p := setup(t)
	content := "port: 5000\nmodify:\n  node:\n    external: [sharp]\n"
	require.NoError(t, os.WriteFile(filepath.Join(p.AppPath, "razzle.config.yaml"), []byte(content), 0644))

	res, err := New(p, nil, logger.Discard(), emptyEnv()).Resolve()
	require.NoError(t, err)

	require.Equal(t, 5000, res.Override.Port)
	require.Equal(t, []string{"sharp"}, res.Server.Build.External)
	require.Empty(t, res.Client.Build.External)
	require.Equal(t, "http://localhost:5000/static/js", res.Client.Build.PublicPath)
}

type stubEngine struct{}

func (stubEngine) Build([]*buildconfig.Config) (*engine.MultiCompiler, error) { return nil, nil }

func TestResolveModifierReceivesTargetAndEngine(t *testing.T) {
	p := setup(t)
	eng := stubEngine{}

	var seen []ModifyOptions
	modify := func(cfg *buildconfig.Config, opts ModifyOptions, got engine.Engine) (*buildconfig.Config, error) {
		require.Equal(t, engine.Engine(eng), got)
		seen = append(seen, opts)
		if opts.Target == buildconfig.TargetNode {
			return nil, nil
		}
		cfg.Build.Define["__MODIFIED__"] = "true"
		return cfg, nil
	}

	res, err := New(p, eng, logger.Discard(), WithModifier(modify), emptyEnv()).Resolve()
	require.NoError(t, err)

	require.Equal(t, []ModifyOptions{
		{Target: buildconfig.TargetWeb, Dev: true},
		{Target: buildconfig.TargetNode, Dev: true},
	}, seen)
	require.Equal(t, "true", res.Client.Build.Define["__MODIFIED__"])
	require.Nil(t, res.Server, "modifier result replaces the base config unchecked")
}

func TestResolveModifierError(t *testing.T) {
	p := setup(t)
	modify := func(*buildconfig.Config, ModifyOptions, engine.Engine) (*buildconfig.Config, error) {
		return nil, errors.New("boom")
	}

	_, err := New(p, nil, logger.Discard(), WithModifier(modify), emptyEnv()).Resolve()
	require.ErrorContains(t, err, "boom")
}
