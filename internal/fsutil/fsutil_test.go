// SPDX-License-Identifier: MIT

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	require.NoError(t, WriteAtomic(path, []byte(`{"a":1}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	// overwrite keeps the file well formed
	require.NoError(t, WriteAtomic(path, []byte(`{"a":2}`)))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, EnsureDir(nested))

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestConfineRelPath(t *testing.T) {
	root := t.TempDir()

	got, err := ConfineRelPath(root, "tasks/abc/meta.json")
	require.NoError(t, err)
	assert.Contains(t, got, "tasks")

	cases := []string{
		"../escape",
		"..",
		"/absolute",
		"a\\b",
	}
	for _, tc := range cases {
		_, err := ConfineRelPath(root, tc)
		assert.Error(t, err, tc)
	}
}

func TestIsRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	assert.NoError(t, IsRegularFile(path))
	assert.Error(t, IsRegularFile(dir))
	assert.Error(t, IsRegularFile(filepath.Join(dir, "missing")))
}
