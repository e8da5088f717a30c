// Package paths resolves the well-known locations of a razzle application.
package paths

import (
	"os"
	"path/filepath"
)

// Paths holds absolute paths used across the pipeline.
type Paths struct {
	AppPath         string
	AppSrc          string
	AppPublic       string
	AppBuild        string
	AppBuildPublic  string
	AppClientIndex  string
	AppServerIndex  string
	AppServerBundle string
	AppManifest     string
	AppNodeModules  string
	AppStateDir     string
	AppHistory      string
	AppLogs         string
	DotEnv          string
}

// ConfigCandidates lists the override file names, in lookup order.
var ConfigCandidates = []string{"razzle.config.yaml", "razzle.config.yml", "razzle.config.json"}

// Resolve builds Paths rooted at appRoot. A relative root is resolved
// against the working directory.
func Resolve(appRoot string) (Paths, error) {
	root, err := filepath.Abs(appRoot)
	if err != nil {
		return Paths{}, err
	}

	build := filepath.Join(root, "build")
	state := filepath.Join(root, ".razzle")

	return Paths{
		AppPath:         root,
		AppSrc:          filepath.Join(root, "src"),
		AppPublic:       filepath.Join(root, "public"),
		AppBuild:        build,
		AppBuildPublic:  filepath.Join(build, "public"),
		AppClientIndex:  filepath.Join(root, "src", "client.js"),
		AppServerIndex:  filepath.Join(root, "src", "index.js"),
		AppServerBundle: filepath.Join(build, "server.js"),
		AppManifest:     filepath.Join(build, "assets.json"),
		AppNodeModules:  filepath.Join(root, "node_modules"),
		AppStateDir:     state,
		AppHistory:      filepath.Join(state, "history.db"),
		AppLogs:         filepath.Join(state, "logs"),
		DotEnv:          filepath.Join(root, ".env"),
	}, nil
}

// RazzleConfig returns the first override file that exists, or "" if none does.
func (p Paths) RazzleConfig() string {
	for _, name := range ConfigCandidates {
		candidate := filepath.Join(p.AppPath, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// DefaultRazzleConfig is where `razzle init` writes a new override file.
func (p Paths) DefaultRazzleConfig() string {
	return filepath.Join(p.AppPath, ConfigCandidates[0])
}
