// Package artifact downloads, verifies and unpacks game-server release
// archives, and keeps a byte-budgeted cache of past downloads so reinstalls
// of a known version skip the network.
package artifact

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"

	"warden/internal/errdefs"
)

const userAgent = "warden-agent"

// FetchOptions tunes one download.
type FetchOptions struct {
	Headers map[string]string
	// Progress receives the running byte count and the total from
	// Content-Length (-1 when unknown). Called from the download goroutine.
	Progress func(done, total int64)
}

// Fetch downloads uri into destDir with retries and returns the local path.
// The filename is taken from the URL path.
func Fetch(ctx context.Context, destDir, uri string, opts FetchOptions) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", errdefs.InvalidArgumentf("download url %q: %v", uri, err)
	}
	base := filepath.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		base = "artifact.bin"
	}
	destPath := filepath.Join(destDir, base)

	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return "", errdefs.InvalidArgumentf("download request: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range opts.Headers {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", errdefs.Unavailablef("download %s: %v", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errdefs.Unavailablef("download %s: %s", uri, resp.Status)
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	total := resp.ContentLength
	written, err := io.Copy(out, &progressReader{r: resp.Body, total: total, progress: opts.Progress})
	if err != nil {
		out.Close()
		_ = os.Remove(destPath)
		return "", errdefs.Unavailablef("download %s: %v", uri, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	log.Info().Str("url", uri).Str("size", humanize.Bytes(uint64(written))).Msg("artifact downloaded")
	return destPath, nil
}

type progressReader struct {
	r        io.Reader
	done     int64
	total    int64
	progress func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		if p.progress != nil {
			p.progress(p.done, p.total)
		}
	}
	return n, err
}

// Ensure returns a local archive for a version, reusing the cache when the
// stored file still matches sha. reused is true when no download happened.
func Ensure(ctx context.Context, root, version, uri, sha string, opts FetchOptions) (path string, reused bool, err error) {
	idx, _ := LoadIndex(root)
	if e, ok := idx.Get(version); ok {
		if _, statErr := os.Stat(e.Path); statErr == nil {
			if sha == "" || VerifySHA256(e.Path, sha) == nil {
				idx.Touch(version)
				_ = idx.Save()
				return e.Path, true, nil
			}
		}
	}
	path, err = Fetch(ctx, root, uri, opts)
	if err != nil {
		return "", false, err
	}
	if sha != "" {
		if err := VerifySHA256(path, sha); err != nil {
			_ = os.Remove(path)
			return "", false, err
		}
	}
	st, _ := os.Stat(path)
	var size int64
	if st != nil {
		size = st.Size()
	}
	idx.Put(IndexEntry{Version: version, URI: uri, SHA256: sha, Path: path, Size: size})
	_ = idx.Save()
	return path, false, nil
}
