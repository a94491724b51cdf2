package versions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/errdefs"
)

// fakeSource scripts the vendor API per test.
type fakeSource struct {
	latest     LatestVersions
	latestErr  error
	lists      map[Channel][]VersionInfo
	listErr    error
	latestHits int
}

func (f *fakeSource) Latest(ctx context.Context) (LatestVersions, error) {
	f.latestHits++
	if f.latestErr != nil {
		return LatestVersions{}, f.latestErr
	}
	return f.latest, nil
}

func (f *fakeSource) List(ctx context.Context, ch Channel) ([]VersionInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.lists[ch], nil
}

func TestResolveConcreteVersionSkipsRemote(t *testing.T) {
	src := &fakeSource{}
	svc := NewService(src)

	got, err := svc.Resolve(context.Background(), "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", got)
	assert.Zero(t, src.latestHits)
}

func TestResolveRejectsMalformedVersion(t *testing.T) {
	svc := NewService(&fakeSource{})
	_, err := svc.Resolve(context.Background(), "1.2")
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestResolveAliasUsesCacheFirst(t *testing.T) {
	src := &fakeSource{latest: LatestVersions{Stable: "2.0.0"}}
	svc := NewService(src)
	svc.cache.SetLatest(strptr("1.9.0"), nil)

	got, err := svc.Resolve(context.Background(), "stable")
	require.NoError(t, err)
	assert.Equal(t, "1.9.0", got)
	assert.Zero(t, src.latestHits, "cached alias must not hit the vendor")
}

func TestResolveAliasFallsBackToRemote(t *testing.T) {
	src := &fakeSource{latest: LatestVersions{Stable: "2.0.0", Unstable: "2.1.0-rc.1"}}
	svc := NewService(src)

	got, err := svc.Resolve(context.Background(), "unstable")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0-rc.1", got)

	// The remote answer is now cached for the next caller.
	assert.Equal(t, "2.0.0", svc.Latest().Stable)
}

func TestResolveAliasUnavailableWhenRemoteDownAndCacheEmpty(t *testing.T) {
	src := &fakeSource{latestErr: errdefs.Unavailablef("vendor api: timeout")}
	svc := NewService(src)

	_, err := svc.Resolve(context.Background(), "stable")
	assert.True(t, errdefs.IsUnavailable(err))
}

func TestRefreshKeepsStaleDataOnFailure(t *testing.T) {
	src := &fakeSource{
		latest: LatestVersions{Stable: "1.0.0"},
		lists: map[Channel][]VersionInfo{
			ChannelStable: {{Version: "1.0.0", IsLatest: true}},
		},
	}
	svc := NewService(src)
	require.NoError(t, svc.Refresh(context.Background()))

	// Vendor goes down; the next refresh reports the failure but the cache
	// keeps serving the previous answers.
	src.latestErr = errors.New("connection refused")
	src.listErr = errors.New("connection refused")
	err := svc.Refresh(context.Background())
	assert.Error(t, err)

	assert.Equal(t, "1.0.0", svc.Latest().Stable)
	list, ok := svc.List(ChannelStable)
	require.True(t, ok)
	assert.Len(t, list, 1)
}

func TestFindRefreshesOnceThenNotFound(t *testing.T) {
	src := &fakeSource{
		lists: map[Channel][]VersionInfo{
			ChannelStable: {{Version: "1.0.0", SHA256: "abc", Filename: "server-1.0.0.tar.gz"}},
		},
	}
	svc := NewService(src)

	vi, err := svc.Find(context.Background(), "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "server-1.0.0.tar.gz", vi.Filename)

	_, err = svc.Find(context.Background(), "9.9.9")
	assert.True(t, errdefs.IsNotFound(err))
}
