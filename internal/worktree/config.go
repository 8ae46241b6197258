package worktree

import (
	"os"
	"path/filepath"
	"strings"
)

// Config holds configuration for the worktree manager.
type Config struct {
	// BasePath is the base directory for worktree checkouts.
	// Supports ~ expansion for home directory.
	BasePath string `mapstructure:"base_path"`

	// DefaultBranch is the base branch used when a request does not name one.
	DefaultBranch string `mapstructure:"default_branch"`

	// MaxPerProject is the maximum number of live worktrees per project.
	MaxPerProject int `mapstructure:"max_per_project"`

	// TemplatePath points at the yaml template catalog. Empty uses the
	// built-in catalog.
	TemplatePath string `mapstructure:"template_path"`
}

// DefaultConfig returns the default worktree configuration.
func DefaultConfig() Config {
	return Config{
		BasePath:      "~/.devchain/worktrees",
		DefaultBranch: "main",
		MaxPerProject: 10,
	}
}

// Validate fills in defaults for missing values.
func (c *Config) Validate() error {
	if c.BasePath == "" {
		c.BasePath = "~/.devchain/worktrees"
	}
	if c.DefaultBranch == "" {
		c.DefaultBranch = "main"
	}
	if c.MaxPerProject <= 0 {
		c.MaxPerProject = 10
	}
	return nil
}

// ExpandedBasePath returns the base path with ~ expanded to the user's home
// directory.
func (c *Config) ExpandedBasePath() (string, error) {
	path := c.BasePath
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

// WorktreePath returns the checkout path for a worktree name.
func (c *Config) WorktreePath(name string) (string, error) {
	basePath, err := c.ExpandedBasePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(basePath, name), nil
}
