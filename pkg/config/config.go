// Package config loads and validates the on-disk settings for a database
// instance: where its file lives, the default graph tuning for new tables,
// and how it logs.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mars/mars/pkg/errs"
)

// DatabaseConfig describes where the database file lives and the default
// vector width for tables created without an explicit dimension.
type DatabaseConfig struct {
	Path      string `yaml:"path"`
	VectorDim int    `yaml:"vector_dim"`
}

// GraphConfig carries the default Vamana-style tuning applied to new
// tables' ANN indexes.
type GraphConfig struct {
	MaxNeighbors int     `yaml:"max_neighbors"`
	AlphaStrict  float64 `yaml:"alpha_strict"`
	AlphaRelaxed float64 `yaml:"alpha_relaxed"`
	SearchBuffer int     `yaml:"search_buffer"`
}

// LoggingConfig controls the structured logger's verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Config is the full set of settings for one database instance.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Graph    GraphConfig    `yaml:"graph"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DefaultConfig returns the configuration used when no config file is
// supplied.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:      "./data.mars",
			VectorDim: 1536,
		},
		Graph: GraphConfig{
			MaxNeighbors: 64,
			AlphaStrict:  1.0,
			AlphaRelaxed: 1.2,
			SearchBuffer: 128,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadConfig reads and parses a YAML config file from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "config: reading %s", path)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.KindInvalidConfig, err, "config: parsing %s", path)
	}

	return cfg, nil
}

// SaveConfig marshals cfg as YAML and writes it to path, creating any
// missing parent directories.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: creating directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}

	return nil
}

// ValidatePath resolves targetPath and confirms it lies within basePath,
// rejecting symlink escapes and ".." traversal. It returns the resolved,
// absolute form of targetPath.
func ValidatePath(basePath, targetPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("config: resolving base path: %w", err)
	}

	resolvedBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		// Base may not exist yet; fall back to the lexical absolute form.
		resolvedBase = absBase
	}

	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return "", fmt.Errorf("config: resolving target path: %w", err)
	}

	resolvedTarget := absTarget
	if resolved, err := filepath.EvalSymlinks(absTarget); err == nil {
		resolvedTarget = resolved
	}

	rel, err := filepath.Rel(resolvedBase, resolvedTarget)
	if err != nil {
		return "", fmt.Errorf("config: computing relative path: %w", err)
	}

	if rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return "", errs.New(errs.KindInvalidConfig, "config: path %q escapes base %q", targetPath, basePath)
	}

	return resolvedTarget, nil
}

var dangerousDataDirs = map[string]bool{
	"/":     true,
	"/etc":  true,
	"/bin":  true,
	"/sbin": true,
	"/usr":  true,
	"/var":  true,
	"/root": true,
	"/boot": true,
	"/sys":  true,
	"/proc": true,
}

// SanitizeDataDir resolves dataDir to an absolute path and rejects a
// handful of well-known system directories that a database file should
// never be pointed at.
func SanitizeDataDir(dataDir string) (string, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return "", fmt.Errorf("config: resolving data dir: %w", err)
	}

	clean := filepath.Clean(abs)
	if dangerousDataDirs[clean] {
		return "", errs.New(errs.KindInvalidConfig, "config: refusing to use system directory %q as data dir", clean)
	}

	return clean, nil
}
