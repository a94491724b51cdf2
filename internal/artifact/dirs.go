package artifact

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// PruneDirs removes version directories directly under root that are not in
// keep. Used to clear old installs once a new version is live; the active
// version (and anything else worth keeping) goes in the keep set.
func PruneDirs(root string, keep map[string]struct{}) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := keep[e.Name()]; ok {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("dir", path).Msg("failed to prune install dir")
			continue
		}
		log.Info().Str("dir", path).Msg("pruned install dir")
	}
	return nil
}
