// Package env prepares the process environment for a development run and
// derives the variables that are inlined into bundles.
package env

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// Development is the NODE_ENV value forced by `razzle start`.
	Development = "development"

	// ClientPrefix marks variables that are exposed to bundles.
	ClientPrefix = "RAZZLE_"

	// IPCFD is the file descriptor of the worker IPC pipe, as seen by the worker.
	IPCFD = 3

	// DefaultDevServerPort is used when neither PORT nor a configured port is set.
	DefaultDevServerPort = 3001
)

// ForceDevelopment sets NODE_ENV for this process and every child it spawns.
func ForceDevelopment() error {
	return os.Setenv("NODE_ENV", Development)
}

// DotenvFiles returns the dotenv files considered for nodeEnv, highest
// priority first. Only files that exist are returned.
func DotenvFiles(appRoot, nodeEnv string) []string {
	candidates := []string{
		fmt.Sprintf(".env.%s.local", nodeEnv),
		// .env.local is skipped for tests so runs stay reproducible
		".env.local",
		fmt.Sprintf(".env.%s", nodeEnv),
		".env",
	}
	if nodeEnv == "test" {
		candidates = append(candidates[:1], candidates[2:]...)
	}

	var files []string
	for _, name := range candidates {
		path := filepath.Join(appRoot, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			files = append(files, path)
		}
	}
	return files
}

// LoadDotenv loads the dotenv files of appRoot into the process environment.
// Variables already present in the environment are never overwritten, and a
// file loaded earlier wins over a later one.
func LoadDotenv(appRoot, nodeEnv string) ([]string, error) {
	files := DotenvFiles(appRoot, nodeEnv)
	if len(files) == 0 {
		return nil, nil
	}
	if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("failed to load dotenv files: %w", err)
	}
	return files, nil
}

// Port returns the numeric value of PORT, if set and positive. Like
// parseInt, surrounding whitespace and an optional plus sign are accepted and
// the leading digits are used, so "4000abc" is 4000.
func Port(lookup func(string) (string, bool)) (int, bool) {
	raw, ok := lookup("PORT")
	if !ok {
		return 0, false
	}
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "+")
	end := 0
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	port, err := strconv.Atoi(raw[:end])
	if err != nil || port <= 0 {
		return 0, false
	}
	return port, true
}

// DevServerPort picks the dev-server port: PORT+1 when PORT is set, else
// configured when positive, else DefaultDevServerPort.
func DevServerPort(lookup func(string) (string, bool), configured int) int {
	if port, ok := Port(lookup); ok {
		return port + 1
	}
	if configured > 0 {
		return configured
	}
	return DefaultDevServerPort
}

// ApplyInspect records the debugger flags for the worker process.
// --inspect-brk takes precedence over --inspect.
func ApplyInspect(inspect, inspectBrk bool) error {
	switch {
	case inspectBrk:
		return os.Setenv("INSPECT_BRK_ENABLED", "true")
	case inspect:
		return os.Setenv("INSPECT_ENABLED", "true")
	}
	return nil
}

// InspectArgs returns the node debugger arguments requested through the environment.
func InspectArgs(lookup func(string) (string, bool)) []string {
	if v, ok := lookup("INSPECT_BRK_ENABLED"); ok && v != "" {
		return []string{"--inspect-brk"}
	}
	if v, ok := lookup("INSPECT_ENABLED"); ok && v != "" {
		return []string{"--inspect"}
	}
	return nil
}

// Client returns the raw variables exposed to a bundle: every RAZZLE_*
// variable of environ plus a few well-known ones, overlaid with extra.
func Client(environ []string, extra map[string]string) map[string]string {
	raw := map[string]string{}
	wellKnown := map[string]bool{"NODE_ENV": true, "PORT": true, "HOST": true, "VERBOSE": true}

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(key, ClientPrefix) || wellKnown[key] {
			raw[key] = value
		}
	}
	if _, ok := raw["NODE_ENV"]; !ok {
		raw["NODE_ENV"] = Development
	}
	for k, v := range extra {
		raw[k] = v
	}
	return raw
}

// Defines turns raw variables into bundler defines of the form
// process.env.KEY -> "json string".
func Defines(raw map[string]string) map[string]string {
	defines := make(map[string]string, len(raw))
	for k, v := range raw {
		quoted, _ := json.Marshal(v)
		defines["process.env."+k] = string(quoted)
	}
	return defines
}
