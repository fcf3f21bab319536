package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTextRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes", "todo.md")
	require.NoError(t, WriteFile(path, "# hello\n"))

	content, err := ReadText(path)
	require.NoError(t, err)
	assert.Equal(t, "# hello\n", content)
	assert.True(t, Exists(path))
}

func TestReadTextRejectsBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x80}, 0644))

	_, err := ReadText(path)
	assert.ErrorContains(t, err, "not valid UTF-8")
}

func TestReadTextRejectsDirectory(t *testing.T) {
	_, err := ReadText(t.TempDir())
	assert.ErrorContains(t, err, "is a directory")
}

func TestReadTextMissingFile(t *testing.T) {
	_, err := ReadText(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
	assert.False(t, Exists(filepath.Join(t.TempDir(), "nope.txt")))
}
