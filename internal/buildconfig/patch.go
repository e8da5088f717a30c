package buildconfig

import (
	"encoding/json"
	"fmt"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/tuanbt/razzle/internal/config"
)

var sourceMaps = map[string]api.SourceMap{
	"none":     api.SourceMapNone,
	"linked":   api.SourceMapLinked,
	"inline":   api.SourceMapInline,
	"external": api.SourceMapExternal,
	"both":     api.SourceMapInlineAndExternal,
}

var loaderNames = map[string]api.Loader{
	"js":      api.LoaderJS,
	"jsx":     api.LoaderJSX,
	"ts":      api.LoaderTS,
	"tsx":     api.LoaderTSX,
	"json":    api.LoaderJSON,
	"css":     api.LoaderCSS,
	"text":    api.LoaderText,
	"base64":  api.LoaderBase64,
	"dataurl": api.LoaderDataURL,
	"file":    api.LoaderFile,
	"binary":  api.LoaderBinary,
	"copy":    api.LoaderCopy,
	"empty":   api.LoaderEmpty,
}

// Apply merges a declarative patch into cfg in place.
func Apply(cfg *Config, p config.TargetPatch) error {
	b := &cfg.Build

	if len(p.Define) > 0 && b.Define == nil {
		b.Define = map[string]string{}
	}
	for k, v := range p.Define {
		b.Define[k] = v
	}
	for k, v := range p.Env {
		quoted, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if b.Define == nil {
			b.Define = map[string]string{}
		}
		b.Define["process.env."+k] = string(quoted)
	}

	b.External = append(b.External, p.External...)

	if len(p.Alias) > 0 && b.Alias == nil {
		b.Alias = map[string]string{}
	}
	for k, v := range p.Alias {
		b.Alias[k] = v
	}

	for ext, name := range p.Loader {
		l, ok := loaderNames[name]
		if !ok {
			return fmt.Errorf("unknown loader %q for %s", name, ext)
		}
		if b.Loader == nil {
			b.Loader = map[string]api.Loader{}
		}
		b.Loader[ext] = l
	}

	if p.Sourcemap != "" {
		sm, ok := sourceMaps[p.Sourcemap]
		if !ok {
			return fmt.Errorf("unknown sourcemap mode %q", p.Sourcemap)
		}
		b.Sourcemap = sm
	}

	if p.Minify {
		b.MinifySyntax = true
		b.MinifyWhitespace = true
		b.MinifyIdentifiers = true
	}

	return nil
}
