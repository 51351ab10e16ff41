package cmd

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xorwow/serial-pdf/internal/placeholder"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDataFileJSON(t *testing.T) {
	path := writeTempFile(t, "data.json", `{"Name": "Ada", "Items": ["a", "b"]}`)

	data, err := loadDataFile(path)
	require.NoError(t, err)

	require.Contains(t, data, "Name")
	assert.Equal(t, "Ada", data["Name"].Scalar())
	require.Contains(t, data, "Items")
	assert.Equal(t, []string{"a", "b"}, data["Items"].Items())
}

func TestLoadDataFileYAML(t *testing.T) {
	path := writeTempFile(t, "data.yml", "Name: Ada\nItems:\n  - a\n  - b\n")

	data, err := loadDataFile(path)
	require.NoError(t, err)

	assert.Equal(t, "Ada", data["Name"].Scalar())
	assert.Equal(t, []string{"a", "b"}, data["Items"].Items())
}

func TestLoadDataFileEmptyPath(t *testing.T) {
	data, err := loadDataFile("")
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.IsType(t, map[string]placeholder.Value{}, data)
}

func TestLoadDataFileRejectsUnknownExtension(t *testing.T) {
	path := writeTempFile(t, "data.toml", `Name = "Ada"`)

	_, err := loadDataFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be .json, .yml or .yaml")
}

func TestLoadDataFileMissingFile(t *testing.T) {
	_, err := loadDataFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestLoadDataFileBadJSON(t *testing.T) {
	path := writeTempFile(t, "data.json", `{"Name": 42}`)

	_, err := loadDataFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing data file")
}

func TestCheckBinaryMissing(t *testing.T) {
	result := checkBinary("latexmk", "definitely-not-a-binary-9f3a")
	assert.Equal(t, "error", result.Status)
	assert.Contains(t, result.Message, "not found in PATH")
	assert.NotEmpty(t, result.Suggestion)
}

func TestCheckWritableCreatesAndProbes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")

	result := checkWritable("export root", dir)
	assert.Equal(t, "ok", result.Status)
	assert.DirExists(t, dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the probe file must be cleaned up")
}

func TestCheckTemplateRepoMissingDir(t *testing.T) {
	result := checkTemplateRepo(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.Equal(t, "error", result.Status)
}

func TestCheckTemplateRepoPlainDir(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	result := checkTemplateRepo(context.Background(), t.TempDir())
	assert.Equal(t, "error", result.Status)
	assert.Contains(t, result.Message, "not a git work tree")
}

func TestCheckConfig(t *testing.T) {
	ok := checkConfig(nil)
	assert.Equal(t, "ok", ok.Status)

	bad := checkConfig(assert.AnError)
	assert.Equal(t, "error", bad.Status)
	assert.Equal(t, assert.AnError.Error(), bad.Message)
}
