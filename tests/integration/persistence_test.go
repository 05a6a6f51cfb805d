package integration

import (
	"context"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/redballoonsecurity/shortfuse/internal/dbfs"
	"github.com/redballoonsecurity/shortfuse/internal/ops"
)

// TestDatabaseBackedSession writes through the full operation layer into
// the database backend and reads the content back in a fresh session.
func TestDatabaseBackedSession(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	g := NewWithT(t)
	ctx := context.Background()
	dataFile := filepath.Join(t.TempDir(), "content.db")

	// First session: build a small tree and close it down.
	store, err := dbfs.OpenStore(ctx, dataFile)
	g.Expect(err).NotTo(HaveOccurred())

	o := ops.New(dbfs.NewFS(store, 0755, 1000, 1000))
	g.Expect(o.Init()).To(Succeed())

	g.Expect(o.Mkdir("/docs", 0755)).To(Succeed())
	fh, err := o.Create("/docs/readme.md", 0644)
	g.Expect(err).NotTo(HaveOccurred())
	_, err = o.Write("/docs/readme.md", []byte("# shortfuse\n"), 0, fh)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(o.Release("/docs/readme.md", fh)).To(Succeed())
	g.Expect(o.Destroy()).To(Succeed())

	// Second session over the same data file: the tree structure is
	// rebuilt fresh but stored content survives by path.
	store, err = dbfs.OpenStore(ctx, dataFile)
	g.Expect(err).NotTo(HaveOccurred())

	o = ops.New(dbfs.NewFS(store, 0755, 1000, 1000))
	g.Expect(o.Init()).To(Succeed())
	defer func() { g.Expect(o.Destroy()).To(Succeed()) }()

	g.Expect(o.Mkdir("/docs", 0755)).To(Succeed())
	fh, err = o.Create("/docs/readme.md", 0644)
	g.Expect(err).NotTo(HaveOccurred())
	data, err := o.Read("/docs/readme.md", 64, 0, fh)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(o.Release("/docs/readme.md", fh)).To(Succeed())
	g.Expect(string(data)).To(Equal("# shortfuse\n"))
}
