// Package manifest maintains build/assets.json, the map from entry names to
// the public URLs of their compiled assets.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Entry lists the assets emitted for one entry point.
type Entry struct {
	JS     string   `json:"js,omitempty"`
	CSS    string   `json:"css,omitempty"`
	Chunks []string `json:"chunks,omitempty"`
}

// Manifest is keyed by entry name (the entry file name without extension).
type Manifest map[string]Entry

// Remove deletes the manifest at p. A missing file is not an error.
func Remove(p string) error {
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}
	return nil
}

// Read loads the manifest at p.
func Read(p string) (Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

// Write stores m at p, creating the parent directory.
func Write(p string, m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return os.WriteFile(p, data, 0644)
}

type metafile struct {
	Outputs map[string]struct {
		EntryPoint string `json:"entryPoint"`
		CSSBundle  string `json:"cssBundle"`
	} `json:"outputs"`
}

// FromMetafile builds a Manifest from an esbuild metafile. Output paths in the
// metafile are relative to workDir; URLs are made relative to publicDir and
// prefixed with publicPath.
func FromMetafile(meta, workDir, publicDir, publicPath string) (Manifest, error) {
	var mf metafile
	if err := json.Unmarshal([]byte(meta), &mf); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}

	url := func(out string) (string, error) {
		abs := out
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(workDir, out)
		}
		rel, err := filepath.Rel(publicDir, abs)
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(publicPath, "/") + "/" + filepath.ToSlash(rel), nil
	}

	m := Manifest{}
	var chunks []string
	for out, info := range mf.Outputs {
		if strings.HasSuffix(out, ".map") {
			continue
		}
		u, err := url(out)
		if err != nil {
			return nil, err
		}
		if info.EntryPoint == "" {
			if strings.HasSuffix(out, ".js") {
				chunks = append(chunks, u)
			}
			continue
		}

		name := strings.TrimSuffix(path.Base(filepath.ToSlash(info.EntryPoint)), path.Ext(info.EntryPoint))
		e := m[name]
		e.JS = u
		if info.CSSBundle != "" {
			if e.CSS, err = url(info.CSSBundle); err != nil {
				return nil, err
			}
		}
		m[name] = e
	}

	sort.Strings(chunks)
	for name, e := range m {
		e.Chunks = chunks
		m[name] = e
	}
	return m, nil
}

// Plugin rewrites the manifest at p after every successful build. The build
// must run with Metafile enabled.
func Plugin(p, workDir, publicDir, publicPath string) api.Plugin {
	return api.Plugin{
		Name: "razzle-manifest",
		Setup: func(build api.PluginBuild) {
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				if len(result.Errors) > 0 || result.Metafile == "" {
					return api.OnEndResult{}, nil
				}
				m, err := FromMetafile(result.Metafile, workDir, publicDir, publicPath)
				if err != nil {
					return api.OnEndResult{}, err
				}
				return api.OnEndResult{}, Write(p, m)
			})
		},
	}
}
