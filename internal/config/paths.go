// Package config loads layered Cognition server configuration: built-in
// defaults, a YAML file, environment variables, and (in cmd/cognition-server)
// CLI flags, in that priority order.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard XDG-style paths for Cognition's own data.
type Paths struct {
	Data   string // ~/.local/share/cognition
	Config string // ~/.config/cognition
	Cache  string // ~/.cache/cognition
	State  string // ~/.local/state/cognition
}

// GetPaths returns the standard paths for Cognition data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "cognition"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "cognition"),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "cognition"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "cognition"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath returns the default embedded-storage file path for a workspace,
// matching the layout in SPEC_FULL.md §6.3: <workspace>/.cognition/state.db.
func StoragePath(workspaceDir string) string {
	return filepath.Join(workspaceDir, ".cognition", "state.db")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// GlobalConfigPath returns the path to the global YAML config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "cognition.yaml")
}

// ProjectConfigPath returns the path to the per-workspace YAML config file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".cognition", "cognition.yaml")
}
