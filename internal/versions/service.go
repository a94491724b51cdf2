package versions

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"warden/internal/errdefs"
)

// Service combines the cache with a remote source. It is the only component
// that writes to the cache: the periodic refresh job calls Refresh, and
// install resolution falls back to a remote lookup when the cache is empty.
type Service struct {
	cache  *Cache
	source Source
}

func NewService(source Source) *Service {
	return &Service{cache: NewCache(), source: source}
}

// Latest returns the cached latest-version pointers without touching the
// network.
func (s *Service) Latest() LatestVersions { return s.cache.Latest() }

// List returns the cached version list for a channel without touching the
// network.
func (s *Service) List(ch Channel) ([]VersionInfo, bool) {
	list, _, ok := s.cache.List(ch)
	return list, ok
}

// Reset drops cached release data. Test hook.
func (s *Service) Reset() { s.cache.Reset() }

// Refresh pulls the latest pointers and both channel lists from the vendor.
// Partial results are kept: whatever succeeded lands in the cache, whatever
// failed leaves the previous data in place. The combined error is reported
// so the job log shows the degradation, but callers keep serving stale data.
func (s *Service) Refresh(ctx context.Context) error {
	var errs []error
	if latest, err := s.source.Latest(ctx); err != nil {
		errs = append(errs, err)
	} else {
		stable, unstable := latest.Stable, latest.Unstable
		var sp, up *string
		if stable != "" {
			sp = &stable
		}
		if unstable != "" {
			up = &unstable
		}
		s.cache.SetLatest(sp, up)
	}
	for _, ch := range []Channel{ChannelStable, ChannelUnstable} {
		list, err := s.source.List(ctx, ch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.cache.SetList(ch, list)
	}
	return errors.Join(errs...)
}

// Resolve turns a version spec from a caller into a concrete version string.
// Channel aliases resolve through the cache, falling back to one remote
// lookup when the cache has never been filled. Anything else must be a
// well-formed concrete version.
func (s *Service) Resolve(ctx context.Context, spec string) (string, error) {
	if !IsChannel(spec) {
		if err := Validate(spec); err != nil {
			return "", err
		}
		return spec, nil
	}

	ch := Channel(spec)
	v := s.latestFor(ch)
	if v == "" {
		latest, err := s.source.Latest(ctx)
		if err != nil {
			// No cached value to degrade to.
			return "", errdefs.Unavailablef("resolve %q: %v", spec, err)
		}
		stable, unstable := latest.Stable, latest.Unstable
		var sp, up *string
		if stable != "" {
			sp = &stable
		}
		if unstable != "" {
			up = &unstable
		}
		s.cache.SetLatest(sp, up)
		v = s.latestFor(ch)
	}
	if v == "" {
		return "", errdefs.Unavailablef("resolve %q: vendor reports no release", spec)
	}
	// The vendor's answer goes through the same shape gate as user input.
	if err := Validate(v); err != nil {
		return "", err
	}
	return v, nil
}

// Find returns the release record for a concrete version, refreshing the
// channel lists once when the version is not cached yet.
func (s *Service) Find(ctx context.Context, version string) (VersionInfo, error) {
	if vi, ok := s.findCached(version); ok {
		return vi, nil
	}
	if err := s.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("version", version).Msg("release lookup degraded to cache")
	}
	if vi, ok := s.findCached(version); ok {
		return vi, nil
	}
	return VersionInfo{}, errdefs.NotFoundf("version %q", version)
}

func (s *Service) latestFor(ch Channel) string {
	latest := s.cache.Latest()
	if ch == ChannelUnstable {
		return latest.Unstable
	}
	return latest.Stable
}

func (s *Service) findCached(version string) (VersionInfo, bool) {
	for _, ch := range []Channel{ChannelStable, ChannelUnstable} {
		list, _, ok := s.cache.List(ch)
		if !ok {
			continue
		}
		for _, vi := range list {
			if vi.Version == version {
				return vi, true
			}
		}
	}
	return VersionInfo{}, false
}
