package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"warden/internal/errdefs"
)

// VerifySHA256 checks that the file's sha256 matches expected (hex,
// case-insensitive).
func VerifySHA256(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	exp := strings.ToLower(strings.TrimSpace(expected))
	if got != exp {
		return errdefs.Internalf("sha256 mismatch for %s: got %s want %s", path, got, exp)
	}
	return nil
}
