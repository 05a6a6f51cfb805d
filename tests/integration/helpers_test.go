package integration

import (
	"os"
	"path/filepath"

	. "github.com/onsi/gomega"
)

// writeLocalFile writes a file under dir, creating parent directories.
func writeLocalFile(g *WithT, dir, rel, content string) {
	path := filepath.Join(dir, filepath.FromSlash(rel))
	g.Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
	g.Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
}
