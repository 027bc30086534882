package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "f")
			require.NoError(t, os.WriteFile(p, []byte(tc.content), 0600))
			got, err := Digest(p)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			ok, err := Verify(p, tc.want)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestDigestReaderMatchesDigest(t *testing.T) {
	content := strings.Repeat("bizfly", 100000)
	p := filepath.Join(t.TempDir(), "big")
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))

	fromFile, err := Digest(p)
	require.NoError(t, err)
	fromReader, err := DigestReader(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, fromFile, fromReader)
}

func TestDigestMissingFile(t *testing.T) {
	_, err := Digest(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
