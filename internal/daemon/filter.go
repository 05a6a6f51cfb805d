package daemon

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"
)

// FileFilter decides whether a path relative to the seed directory is
// carried into the tree.
type FileFilter func(relPath string, isDir bool) bool

// BuildFileFilter creates a FileFilter that:
// 1. Always excludes the .shortfuse directory
// 2. Checks excludes (force-exclude, highest priority)
// 3. Checks includes (force-include, overrides gitignore)
// 4. Applies the seed directory's gitignore rules
func BuildFileFilter(seedDir string, gitignoreEnabled bool, includes, excludes []string) FileFilter {
	var matcher *ignore.GitIgnore
	if gitignoreEnabled {
		gi, err := ignore.CompileIgnoreFile(filepath.Join(seedDir, ".gitignore"))
		if err == nil {
			matcher = gi
		} else if !os.IsNotExist(err) {
			log.Warnf("[daemon] Failed to read gitignore in %s: %v", seedDir, err)
		}
	}

	return func(relPath string, isDir bool) bool {
		if underPath(relPath, ".shortfuse") {
			return false
		}
		for _, exc := range excludes {
			if underPath(relPath, exc) {
				return false
			}
		}
		for _, inc := range includes {
			if underPath(relPath, inc) {
				return true
			}
		}
		if matcher != nil && matcher.MatchesPath(relPath) {
			return false
		}
		return true
	}
}

// BuildFileFilterFromConfig creates the seeding filter from a ServeConfig.
func BuildFileFilterFromConfig(cfg *ServeConfig) FileFilter {
	return BuildFileFilter(cfg.SeedDir, cfg.GitignoreEnabled(), cfg.Includes, cfg.Excludes)
}

func underPath(relPath, prefix string) bool {
	return relPath == prefix ||
		strings.HasPrefix(relPath, prefix+"/") ||
		strings.HasPrefix(relPath, prefix+string(filepath.Separator))
}
