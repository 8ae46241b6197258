package worktree

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogBuiltin(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)
	require.NotEmpty(t, catalog.List())

	// Empty slug resolves to the first entry.
	tmpl, err := catalog.Get("")
	require.NoError(t, err)
	assert.Equal(t, "default", tmpl.Slug)

	_, err = catalog.Get("nope")
	assert.True(t, errors.Is(err, ErrUnknownTemplate))
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := `templates:
  - slug: rust
    name: Rust
    image: devchain/sandbox-rust:latest
    setup_commands:
      - cargo fetch
  - slug: python
    name: Python
    image: devchain/sandbox-python:latest
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog.List(), 2)

	tmpl, err := catalog.Get("rust")
	require.NoError(t, err)
	assert.Equal(t, "devchain/sandbox-rust:latest", tmpl.Image)
	assert.Equal(t, []string{"cargo fetch"}, tmpl.SetupCommands)
}

func TestLoadCatalogRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := `templates:
  - slug: dup
    name: One
    image: a
  - slug: dup
    name: Two
    image: b
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadCatalog(path)
	assert.Error(t, err)
}
