package versions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"warden/internal/errdefs"
)

// Source answers release questions from the vendor API.
type Source interface {
	Latest(ctx context.Context) (LatestVersions, error)
	List(ctx context.Context, ch Channel) ([]VersionInfo, error)
}

type disabledSource struct{}

func (disabledSource) Latest(context.Context) (LatestVersions, error) {
	return LatestVersions{}, errdefs.Unavailablef("no version source configured")
}

func (disabledSource) List(context.Context, Channel) ([]VersionInfo, error) {
	return nil, errdefs.Unavailablef("no version source configured")
}

// Disabled returns a source for running without a vendor API: every lookup
// reports unavailable, so installs only succeed for already-cached releases.
func Disabled() Source { return disabledSource{} }

// HTTPSource talks to the vendor release API over HTTP with retries.
//
//	GET {base}/versions/latest          -> {"stable":"1.2.3","unstable":"1.3.0-rc.1"}
//	GET {base}/versions?channel=stable  -> {"versions":[{...}]}
type HTTPSource struct {
	base    string
	client  *retryablehttp.Client
	timeout time.Duration
}

// NewHTTPSource builds a source for the given API base URL. Each call is
// bounded by timeout on top of any deadline already on the context.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{base: baseURL, client: client, timeout: timeout}
}

func (s *HTTPSource) Latest(ctx context.Context) (LatestVersions, error) {
	var out LatestVersions
	if err := s.getJSON(ctx, s.base+"/versions/latest", &out); err != nil {
		return LatestVersions{}, err
	}
	out.LastChecked = time.Now()
	return out, nil
}

func (s *HTTPSource) List(ctx context.Context, ch Channel) ([]VersionInfo, error) {
	var out struct {
		Versions []VersionInfo `json:"versions"`
	}
	url := fmt.Sprintf("%s/versions?channel=%s", s.base, ch)
	if err := s.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	for i := range out.Versions {
		if out.Versions[i].Channel == "" {
			out.Versions[i].Channel = ch
		}
	}
	return out.Versions, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, url string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errdefs.InvalidArgumentf("vendor api request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return errdefs.Unavailablef("vendor api: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errdefs.Unavailablef("vendor api: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errdefs.Unavailablef("vendor api: decode: %v", err)
	}
	return nil
}
