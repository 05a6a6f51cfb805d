package daemon

import (
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/redballoonsecurity/shortfuse/internal/ops"
)

// Seed copies the contents of a local directory into the tree through the
// operations adapter, so seeding honors the same variant checks and
// failure kinds as live traffic. Symlinks are skipped; the adapter does
// not create links.
func Seed(o *ops.Operations, seedDir string, filter FileFilter) error {
	return filepath.WalkDir(seedDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(seedDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if filter != nil && !filter(filepath.ToSlash(rel), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			log.Debugf("[daemon] Seed: skipping symlink %s", rel)
			return nil
		}

		treePath := "/" + filepath.ToSlash(rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := int64(info.Mode().Perm())

		if d.IsDir() {
			return o.Mkdir(treePath, mode)
		}
		return seedFile(o, path, treePath, mode)
	})
}

func seedFile(o *ops.Operations, localPath, treePath string, mode int64) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	fh, err := o.Create(treePath, mode)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := o.Write(treePath, data, 0, fh); err != nil {
			_ = o.Release(treePath, fh)
			return err
		}
	}
	return o.Release(treePath, fh)
}
