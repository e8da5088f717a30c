// Package buildconfig creates the build configuration of each target.
package buildconfig

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/tuanbt/razzle/internal/config"
	"github.com/tuanbt/razzle/internal/env"
	"github.com/tuanbt/razzle/internal/manifest"
	"github.com/tuanbt/razzle/internal/paths"
)

// Target names accepted by Create.
const (
	TargetWeb  = "web"
	TargetNode = "node"
)

// Compiler names, in MultiCompiler order.
const (
	NameClient = "client"
	NameServer = "server"
)

// LiveReloadPath is the dev-server endpoint client bundles subscribe to.
const LiveReloadPath = "/__razzle/livereload"

// Config is one target's build configuration.
type Config struct {
	Target    string
	Name      string
	Dev       bool
	Build     api.BuildOptions
	DevServer DevServerOptions
}

// DevServerOptions configures the asset server wrapping the client compiler.
type DevServerOptions struct {
	Host        string
	PublicDir   string
	PublicPath  string
	Headers     map[string]string
	RequestWait time.Duration
}

// Options carries the collaborators of Create.
type Options struct {
	Paths    paths.Paths
	Override *config.Razzle

	// Lookup and Environ default to the process environment.
	Lookup  func(string) (string, bool)
	Environ []string
}

// Factory creates the configuration of one target.
type Factory func(target string, dev bool, opts Options) (*Config, error)

var _ Factory = Create

// Create returns the base configuration for target (web or node).
func Create(target string, dev bool, opts Options) (*Config, error) {
	if opts.Override == nil {
		opts.Override = config.Default()
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ()
	}

	host := opts.Override.Host
	if h, ok := opts.Lookup("HOST"); ok && h != "" {
		host = h
	}
	port := env.DevServerPort(opts.Lookup, opts.Override.Port)
	devURL := "http://" + host + ":" + strconv.Itoa(port)

	p := opts.Paths
	base := api.BuildOptions{
		AbsWorkingDir: p.AppPath,
		Bundle:        true,
		Write:         true,
		Metafile:      true,
		LogLevel:      api.LogLevelSilent,
		JSX:           api.JSXAutomatic,
		Loader:        loaders(),
	}
	if dev {
		base.Sourcemap = api.SourceMapLinked
	} else {
		base.MinifySyntax = true
		base.MinifyWhitespace = true
		base.MinifyIdentifiers = true
	}

	switch target {
	case TargetWeb:
		raw := env.Client(opts.Environ, map[string]string{"BUILD_TARGET": NameClient})
		publicPath := devURL + "/"
		if !dev {
			publicPath = "/"
		}

		b := base
		b.EntryPoints = []string{p.AppClientIndex}
		b.Outdir = p.AppBuildPublic + "/static/js"
		b.EntryNames = "[name]"
		b.AssetNames = "../media/[name]-[hash]"
		b.ChunkNames = "[name]-[hash]"
		b.PublicPath = publicPath + "static/js"
		b.Platform = api.PlatformBrowser
		b.Format = api.FormatIIFE
		b.Target = api.ES2017
		b.Define = env.Defines(raw)
		b.Plugins = []api.Plugin{manifest.Plugin(p.AppManifest, p.AppPath, p.AppBuildPublic, publicPath)}
		if dev {
			b.Banner = map[string]string{"js": liveReloadBanner(devURL)}
		}

		return &Config{
			Target: target,
			Name:   NameClient,
			Dev:    dev,
			Build:  b,
			DevServer: DevServerOptions{
				Host:        host,
				PublicDir:   p.AppBuildPublic,
				PublicPath:  "/",
				Headers:     map[string]string{"Access-Control-Allow-Origin": "*"},
				RequestWait: time.Duration(opts.Override.RequestWaitSeconds) * time.Second,
			},
		}, nil

	case TargetNode:
		raw := env.Client(opts.Environ, map[string]string{
			"BUILD_TARGET":           NameServer,
			"RAZZLE_ASSETS_MANIFEST": p.AppManifest,
			"RAZZLE_PUBLIC_DIR":      p.AppBuildPublic,
		})
		// PORT and HOST stay dynamic on the server.
		delete(raw, "PORT")
		delete(raw, "HOST")

		b := base
		b.EntryPoints = []string{p.AppServerIndex}
		b.Outfile = p.AppServerBundle
		b.AssetNames = "public/static/media/[name]-[hash]"
		b.PublicPath = devURL + "/static/media"
		b.Platform = api.PlatformNode
		b.Format = api.FormatCommonJS
		b.Engines = []api.Engine{{Name: api.EngineNode, Version: "18"}}
		b.Packages = api.PackagesExternal
		b.Define = env.Defines(raw)
		if dev {
			b.Banner = map[string]string{"js": consoleShim}
		}

		return &Config{Target: target, Name: NameServer, Dev: dev, Build: b}, nil
	}

	return nil, fmt.Errorf("unknown target %q", target)
}

func loaders() map[string]api.Loader {
	return map[string]api.Loader{
		".js":    api.LoaderJSX,
		".jsx":   api.LoaderJSX,
		".ts":    api.LoaderTS,
		".tsx":   api.LoaderTSX,
		".css":   api.LoaderCSS,
		".json":  api.LoaderJSON,
		".png":   api.LoaderFile,
		".jpg":   api.LoaderFile,
		".jpeg":  api.LoaderFile,
		".gif":   api.LoaderFile,
		".svg":   api.LoaderFile,
		".webp":  api.LoaderFile,
		".woff":  api.LoaderFile,
		".woff2": api.LoaderFile,
	}
}

// consoleShim reroutes console methods of the server bundle to newline
// delimited JSON on the IPC fd, when one is provided.
const consoleShim = `(function(){var fd=Number(process.env.RAZZLE_IPC_FD);if(!fd)return;var fs=require("fs");` +
	`["log","info","debug","warn","error","trace"].forEach(function(type){console[type]=function(){` +
	`var args=Array.prototype.slice.call(arguments).map(function(a){return a instanceof Error?(a.stack||String(a)):a});` +
	`try{fs.writeSync(fd,JSON.stringify({cmd:"console",type:type,args:args})+"\n")}catch(e){}}})})();`

func liveReloadBanner(devURL string) string {
	u, err := url.JoinPath(devURL, LiveReloadPath)
	if err != nil {
		u = devURL + LiveReloadPath
	}
	return `(function(){if(typeof EventSource==="undefined")return;var last;` +
		`new EventSource(` + strconv.Quote(u) + `).addEventListener("reload",function(e){` +
		`if(last&&last!==e.data)location.reload();last=e.data})})();`
}
