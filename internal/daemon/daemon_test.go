package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redballoonsecurity/shortfuse/internal/memfs"
	"github.com/redballoonsecurity/shortfuse/internal/ops"
)

func TestConfigPathsFollowEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHORTFUSE_CONFIG_DIR", dir)

	assert.Equal(t, dir, ConfigDir())
	assert.Equal(t, filepath.Join(dir, "serve.pid"), PidPath())
	assert.Equal(t, filepath.Join(dir, "serve.lock"), LockPath())
	assert.Equal(t, filepath.Join(dir, "serve.log"), LogPath())
	assert.Equal(t, filepath.Join(dir, "config.yaml"), SettingsPath())

	t.Setenv("SHORTFUSE_SERVE_LOG", "/tmp/override.log")
	assert.Equal(t, "/tmp/override.log", LogPath())
}

func TestServeConfigDefaults(t *testing.T) {
	t.Setenv("SHORTFUSE_CONFIG_DIR", t.TempDir())

	cfg := &ServeConfig{}
	cfg.ApplyDefaults()

	assert.Equal(t, "127.0.0.1:20490", cfg.Listen)
	assert.Equal(t, "shortfuse", cfg.Share)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, filepath.Join(ConfigDir(), "content.db"), cfg.DataFile)
	assert.Equal(t, int64(0755), cfg.RootMode)
	assert.Equal(t, "off", cfg.LogLevel)
	assert.True(t, cfg.GitignoreEnabled())
}

func TestLoadServeConfig(t *testing.T) {
	t.Parallel()

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := LoadServeConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Backend)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "listen: 127.0.0.1:3049\nbackend: database\ngitignore: false\nexcludes:\n  - build\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		cfg, err := LoadServeConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:3049", cfg.Listen)
		assert.Equal(t, "database", cfg.Backend)
		assert.False(t, cfg.GitignoreEnabled())
		assert.Equal(t, []string{"build"}, cfg.Excludes)
		assert.Equal(t, "shortfuse", cfg.Share)
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("listen: [oops"), 0600))

		_, err := LoadServeConfig(path)
		assert.Error(t, err)
	})
}

func TestFileFilterPrecedence(t *testing.T) {
	t.Parallel()

	seedDir := t.TempDir()
	gitignore := "*.log\nvendor/\n"
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, ".gitignore"), []byte(gitignore), 0644))

	filter := BuildFileFilter(seedDir, true, []string{"vendor/keep"}, []string{"secrets"})

	assert.False(t, filter(".shortfuse", true), "state dir is always excluded")
	assert.False(t, filter(".shortfuse/cache", false))
	assert.False(t, filter("secrets", true), "excludes win")
	assert.False(t, filter("secrets/token", false))
	assert.False(t, filter("debug.log", false), "gitignore applies")
	assert.False(t, filter("vendor/lib.go", false))
	assert.True(t, filter("vendor/keep", false), "includes override gitignore")
	assert.True(t, filter("vendor/keep/extra", false))
	assert.True(t, filter("main.go", false))
	assert.True(t, filter("docs", true))
}

func TestFileFilterWithoutGitignore(t *testing.T) {
	t.Parallel()

	seedDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, ".gitignore"), []byte("*.log\n"), 0644))

	filter := BuildFileFilter(seedDir, false, nil, nil)
	assert.True(t, filter("debug.log", false))
}

func newSeedOps(t *testing.T) *ops.Operations {
	t.Helper()
	o := ops.New(memfs.NewFS(0755, 1000, 1000))
	require.NoError(t, o.Init())
	t.Cleanup(func() { _ = o.Destroy() })
	return o
}

func TestSeedCopiesTreeContents(t *testing.T) {
	t.Parallel()

	seedDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(seedDir, "sub", "deep"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "top.txt"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "sub", "inner.txt"), []byte("world"), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "sub", "deep", "empty"), nil, 0644))

	o := newSeedOps(t)
	require.NoError(t, Seed(o, seedDir, nil))

	fh, err := o.Open("/top.txt")
	require.NoError(t, err)
	data, err := o.Read("/top.txt", 64, 0, fh)
	require.NoError(t, err)
	require.NoError(t, o.Release("/top.txt", fh))
	assert.Equal(t, "hello", string(data))

	fields, err := o.GetAttr("/sub/inner.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), fields["st_size"])
	assert.Equal(t, int64(0640), fields["st_mode"]&0777)

	fields, err = o.GetAttr("/sub/deep/empty", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), fields["st_size"])
}

func TestSeedHonorsFilter(t *testing.T) {
	t.Parallel()

	seedDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(seedDir, "skipped"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "skipped", "file"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "kept.txt"), []byte("y"), 0644))

	filter := func(relPath string, isDir bool) bool { return relPath != "skipped" }

	o := newSeedOps(t)
	require.NoError(t, Seed(o, seedDir, FileFilter(filter)))

	_, err := o.GetAttr("/kept.txt", 0)
	assert.NoError(t, err)
	_, err = o.GetAttr("/skipped", 0)
	assert.Error(t, err, "filtered directories are pruned")
}

func TestSeedSkipsSymlinks(t *testing.T) {
	t.Parallel()

	seedDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "real"), []byte("z"), 0644))
	require.NoError(t, os.Symlink(filepath.Join(seedDir, "real"), filepath.Join(seedDir, "alias")))

	o := newSeedOps(t)
	require.NoError(t, Seed(o, seedDir, nil))

	_, err := o.GetAttr("/real", 0)
	assert.NoError(t, err)
	_, err = o.GetAttr("/alias", 0)
	assert.Error(t, err)
}
