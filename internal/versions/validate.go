package versions

import (
	"regexp"

	"github.com/Masterminds/semver/v3"

	"warden/internal/errdefs"
)

// Accepted pre-release tags. The vendor only publishes these four, with an
// optional numeric iteration ("rc.2").
var prereleasePattern = regexp.MustCompile(`^(pre|rc|alpha|beta)(\.(0|[1-9][0-9]*))?$`)

// Validate checks that v is a concrete version of the form MAJOR.MINOR.PATCH
// with an optional -pre/-rc/-alpha/-beta[.N] suffix and optional +build
// metadata. Channel aliases are not accepted here; resolve them first.
func Validate(v string) error {
	if v == "" {
		return errdefs.InvalidArgumentf("version is empty")
	}
	sv, err := semver.StrictNewVersion(v)
	if err != nil {
		return errdefs.InvalidArgumentf("version %q: %v", v, err)
	}
	if pr := sv.Prerelease(); pr != "" && !prereleasePattern.MatchString(pr) {
		return errdefs.InvalidArgumentf("version %q: unknown pre-release tag %q", v, pr)
	}
	return nil
}
