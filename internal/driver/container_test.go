package driver

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageNameFollowsNamingRule(t *testing.T) {
	content := []byte("FROM python:3.12\n")
	sum := sha256.Sum256(content)
	want := "python-" + hex.EncodeToString(sum[:])[:12]
	assert.Equal(t, want, imageName("python", content))
}

func TestContainerNameDerivesFromImageName(t *testing.T) {
	name := containerName("python-abc123456789")
	assert.True(t, len(name) == len("python-abc123456789")+1+8)
	assert.Equal(t, "python-abc123456789-", name[:len("python-abc123456789-")])
}

func TestContainerNameIsNotDeterministic(t *testing.T) {
	a := containerName("python-abc123456789")
	b := containerName("python-abc123456789")
	assert.NotEqual(t, a, b, "each run should get a fresh uuid8 discriminator")
}

func TestTarDirectoryPacksFilesRecursively(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.txt"), []byte("hello"), 0o644))

	buf, err := tarDirectory(dir)
	require.NoError(t, err)

	tr := tar.NewReader(bytes.NewReader(buf.Bytes()))
	names := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		var content bytes.Buffer
		content.ReadFrom(tr)
		names[hdr.Name] = content.String()
	}
	assert.Equal(t, "FROM scratch", names["Dockerfile"])
	assert.Equal(t, "hello", names["sub/a.txt"])
}
