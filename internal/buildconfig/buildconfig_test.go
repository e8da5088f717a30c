package buildconfig

import (
	"strings"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/require"

	"github.com/tuanbt/razzle/internal/config"
	"github.com/tuanbt/razzle/internal/paths"
)

func testOptions(t *testing.T, envMap map[string]string) Options {
	t.Helper()
	p, err := paths.Resolve(t.TempDir())
	require.NoError(t, err)

	var environ []string
	for k, v := range envMap {
		environ = append(environ, k+"="+v)
	}
	return Options{
		Paths:    p,
		Override: config.Default(),
		Lookup: func(k string) (string, bool) {
			v, ok := envMap[k]
			return v, ok
		},
		Environ: environ,
	}
}

func TestCreateWeb(t *testing.T) {
	opts := testOptions(t, map[string]string{"RAZZLE_API": "https://api", "SECRET": "x"})

	cfg, err := Create(TargetWeb, true, opts)
	require.NoError(t, err)

	require.Equal(t, NameClient, cfg.Name)
	require.Equal(t, []string{opts.Paths.AppClientIndex}, cfg.Build.EntryPoints)
	require.Equal(t, api.PlatformBrowser, cfg.Build.Platform)
	require.Equal(t, api.SourceMapLinked, cfg.Build.Sourcemap)
	require.True(t, cfg.Build.Metafile)
	require.Equal(t, "http://localhost:3001/static/js", cfg.Build.PublicPath)
	require.Equal(t, `"https://api"`, cfg.Build.Define["process.env.RAZZLE_API"])
	require.Equal(t, `"client"`, cfg.Build.Define["process.env.BUILD_TARGET"])
	require.NotContains(t, cfg.Build.Define, "process.env.SECRET")
	require.Len(t, cfg.Build.Plugins, 1)
	require.Contains(t, cfg.Build.Banner["js"], LiveReloadPath)

	require.Equal(t, opts.Paths.AppBuildPublic, cfg.DevServer.PublicDir)
	require.Equal(t, "*", cfg.DevServer.Headers["Access-Control-Allow-Origin"])
}

func TestCreateWebUsesPortPlusOne(t *testing.T) {
	opts := testOptions(t, map[string]string{"PORT": "4000", "HOST": "0.0.0.0"})

	cfg, err := Create(TargetWeb, true, opts)
	require.NoError(t, err)
	require.Equal(t, "http://0.0.0.0:4001/static/js", cfg.Build.PublicPath)
	require.Equal(t, "0.0.0.0", cfg.DevServer.Host)
}

func TestCreateNode(t *testing.T) {
	opts := testOptions(t, map[string]string{"PORT": "4000"})

	cfg, err := Create(TargetNode, true, opts)
	require.NoError(t, err)

	require.Equal(t, NameServer, cfg.Name)
	require.Equal(t, opts.Paths.AppServerBundle, cfg.Build.Outfile)
	require.Equal(t, api.PlatformNode, cfg.Build.Platform)
	require.Equal(t, api.FormatCommonJS, cfg.Build.Format)
	require.Equal(t, api.PackagesExternal, cfg.Build.Packages)
	require.NotContains(t, cfg.Build.Define, "process.env.PORT")
	require.Contains(t, cfg.Build.Define, "process.env.RAZZLE_ASSETS_MANIFEST")
	require.True(t, strings.Contains(cfg.Build.Banner["js"], "RAZZLE_IPC_FD"))
}

func TestCreateUnknownTarget(t *testing.T) {
	_, err := Create("electron", true, testOptions(t, nil))
	require.Error(t, err)
}

func TestApply(t *testing.T) {
	cfg, err := Create(TargetNode, true, testOptions(t, nil))
	require.NoError(t, err)

	err = Apply(cfg, config.TargetPatch{
		Define:    map[string]string{"__SERVER__": "true"},
		Env:       map[string]string{"FEATURE": "on"},
		External:  []string{"pg-native"},
		Alias:     map[string]string{"lodash": "lodash-es"},
		Loader:    map[string]string{".md": "text"},
		Sourcemap: "inline",
		Minify:    true,
	})
	require.NoError(t, err)

	b := cfg.Build
	require.Equal(t, "true", b.Define["__SERVER__"])
	require.Equal(t, `"on"`, b.Define["process.env.FEATURE"])
	require.Equal(t, []string{"pg-native"}, b.External)
	require.Equal(t, "lodash-es", b.Alias["lodash"])
	require.Equal(t, api.LoaderText, b.Loader[".md"])
	require.Equal(t, api.SourceMapInline, b.Sourcemap)
	require.True(t, b.MinifyWhitespace)
}

func TestApplyRejectsUnknownNames(t *testing.T) {
	cfg, err := Create(TargetWeb, true, testOptions(t, nil))
	require.NoError(t, err)

	require.Error(t, Apply(cfg, config.TargetPatch{Loader: map[string]string{".x": "wasm"}}))
	require.Error(t, Apply(cfg, config.TargetPatch{Sourcemap: "sometimes"}))
}
