package fsutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.txt")

	require.NoError(t, AtomicWrite(path, []byte("first")))
	require.NoError(t, AtomicWrite(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPerm, info.Mode().Perm())
}

func TestAtomicWriteMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "public.txt")
	require.NoError(t, AtomicWriteMode(path, []byte("x"), 0644))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, AtomicWriteJSON(path, map[string]int{"writer": i}))
		}(i)
	}
	wg.Wait()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.json", entries[0].Name())

	var got map[string]int
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Contains(t, got, "writer")
}

func TestAtomicWriteJSONFormatting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, AtomicWriteJSON(path, map[string]string{"a": "b"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": \"b\"\n}\n", string(data))
}

func TestAtomicWriteJSONMarshalError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	err := AtomicWriteJSON(path, map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "marshal"))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
