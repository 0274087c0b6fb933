package confkit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/abs/file.yaml", ResolvePath("/base", "/abs/file.yaml"), "absolute paths pass through")
	assert.Equal(t, filepath.Join("/base", "file.yaml"), ResolvePath("/base", "file.yaml"))

	t.Setenv("CONF_DIR", "sub")
	assert.Equal(t, filepath.Join("/base", "sub", "file.yaml"), ResolvePath("/base", "${CONF_DIR}/file.yaml"),
		"environment references expand before anchoring")
}

func TestBaseDir(t *testing.T) {
	assert.Equal(t, "/etc/app", BaseDir("/etc/app/main.yaml"))
}

type sectionPayload struct {
	Name string
}

func TestSection_Hydrate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part.yaml"), []byte("name: x\n"), 0o644))

	loader := func(path string) (*sectionPayload, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		require.Contains(t, string(data), "name")
		return &sectionPayload{Name: "x"}, nil
	}

	s := Section[sectionPayload]{File: "part.yaml"}
	require.NoError(t, s.Hydrate(dir, loader))
	require.NotNil(t, s.Value)
	assert.Equal(t, "x", s.Value.Name)
	assert.Equal(t, filepath.Join(dir, "part.yaml"), s.File, "Hydrate rewrites File to the resolved path")
}

func TestSection_HydrateEmptyFileIsNoop(t *testing.T) {
	var s Section[sectionPayload]
	require.NoError(t, s.Hydrate("/base", func(string) (*sectionPayload, error) {
		return nil, errors.New("loader must not run")
	}))
	assert.Nil(t, s.Value)
}

func TestSection_HydratePropagatesLoaderError(t *testing.T) {
	s := Section[sectionPayload]{File: "part.yaml"}
	err := s.Hydrate(t.TempDir(), func(path string) (*sectionPayload, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
}
