package artifact

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/errdefs"
)

// tarGz builds an in-memory tar.gz with the given files.
func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o755,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func sha256hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestFetchReportsProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 4096)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write(payload)
	}))
	defer ts.Close()

	var lastDone, lastTotal int64
	dir := t.TempDir()
	path, err := Fetch(context.Background(), dir, ts.URL+"/server-1.0.0.tar.gz", FetchOptions{
		Progress: func(done, total int64) { lastDone, lastTotal = done, total },
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "server-1.0.0.tar.gz"), path)
	assert.Equal(t, int64(len(payload)), lastDone)
	assert.Equal(t, int64(len(payload)), lastTotal)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, b, len(payload))
}

func TestFetchServerErrorIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := Fetch(context.Background(), t.TempDir(), ts.URL+"/gone.tar.gz", FetchOptions{})
	assert.True(t, errdefs.IsUnavailable(err))
}

func TestVerifySHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	good := sha256hex([]byte("hello"))
	assert.NoError(t, VerifySHA256(path, good))
	assert.NoError(t, VerifySHA256(path, "  "+good+" "), "whitespace tolerated")

	err := VerifySHA256(path, sha256hex([]byte("other")))
	assert.True(t, errdefs.IsInternal(err))
}

func TestUnpackTarGzByMagicBytes(t *testing.T) {
	dir := t.TempDir()
	// No .tar.gz extension; detection must fall back to magic bytes.
	archive := filepath.Join(dir, "download")
	require.NoError(t, os.WriteFile(archive, tarGz(t, map[string]string{
		"bin/server":    "#!/bin/sh\necho hi\n",
		"data/readme":   "hello",
		"settings.json": "{}",
	}), 0o644))

	target := filepath.Join(dir, "out")
	require.NoError(t, Unpack(archive, target))

	b, err := os.ReadFile(filepath.Join(target, "data", "readme"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	st, err := os.Stat(filepath.Join(target, "bin", "server"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), st.Mode().Perm())
}

func TestUnpackZip(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("cfg/server.properties")
	require.NoError(t, err)
	_, err = w.Write([]byte("port=25565"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	archive := filepath.Join(dir, "pack.zip")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

	target := filepath.Join(dir, "out")
	require.NoError(t, Unpack(archive, target))
	b, err := os.ReadFile(filepath.Join(target, "cfg", "server.properties"))
	require.NoError(t, err)
	assert.Equal(t, "port=25565", string(b))
}

func TestUnpackRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	require.NoError(t, os.WriteFile(archive, tarGz(t, map[string]string{
		"../escape": "bad",
	}), 0o644))

	err := Unpack(archive, filepath.Join(dir, "out"))
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "escape"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUnpackUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(archive, []byte("not an archive"), 0o644))
	assert.Error(t, Unpack(archive, filepath.Join(dir, "out")))
}

func TestEnsureReusesVerifiedDownload(t *testing.T) {
	payload := tarGz(t, map[string]string{"f": "content"})
	sha := sha256hex(payload)
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write(payload)
	}))
	defer ts.Close()

	root := t.TempDir()
	url := ts.URL + "/server-1.0.0.tar.gz"

	path1, reused, err := Ensure(context.Background(), root, "1.0.0", url, sha, FetchOptions{})
	require.NoError(t, err)
	assert.False(t, reused)

	path2, reused, err := Ensure(context.Background(), root, "1.0.0", url, sha, FetchOptions{})
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, path1, path2)
	assert.Equal(t, 1, hits, "second ensure must not redownload")
}

func TestEnsureRejectsBadChecksum(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tampered"))
	}))
	defer ts.Close()

	_, _, err := Ensure(context.Background(), t.TempDir(), "1.0.0", ts.URL+"/x.tar.gz", sha256hex([]byte("expected")), FetchOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsInternal(err))
}

func TestPruneCacheEvictsLRU(t *testing.T) {
	root := t.TempDir()
	idx, err := LoadIndex(root)
	require.NoError(t, err)

	write := func(name string, size int) string {
		path := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("a"), size), 0o644))
		return path
	}
	oldPath := write("old.tar.gz", 600)
	newPath := write("new.tar.gz", 600)
	idx.Put(IndexEntry{Version: "2.0.0", Path: newPath, Size: 600})
	// Backdate the first entry so it is the LRU victim.
	idx.m["1.0.0"] = IndexEntry{Version: "1.0.0", Path: oldPath, Size: 600, Updated: time.Now().Add(-time.Hour)}
	require.NoError(t, idx.Save())

	require.NoError(t, PruneCache(root, 1000))

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "oldest entry evicted")
	_, err = os.Stat(newPath)
	assert.NoError(t, err, "newest entry kept")

	after, _ := LoadIndex(root)
	_, ok := after.Get("1.0.0")
	assert.False(t, ok)
	_, ok = after.Get("2.0.0")
	assert.True(t, ok)
}

func TestPruneDirsKeepsActive(t *testing.T) {
	root := t.TempDir()
	for _, v := range []string{"1.0.0", "1.1.0", "2.0.0"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, v), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644))

	require.NoError(t, PruneDirs(root, map[string]struct{}{"2.0.0": {}}))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"2.0.0", "stray.txt"}, names)
}
