package daemon

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"os"
	"path"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfsfile "github.com/willscott/go-nfs/file"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"github.com/redballoonsecurity/shortfuse/internal/attr"
	"github.com/redballoonsecurity/shortfuse/internal/common"
	"github.com/redballoonsecurity/shortfuse/internal/node"
	"github.com/redballoonsecurity/shortfuse/internal/ops"
)

// NFSServer serves a tree over NFS through the billy adapter.
type NFSServer struct {
	listener net.Listener
	server   *nfs.Server
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewNFSServer creates an NFS server over the operations adapter.
func NewNFSServer(o *ops.Operations) *NFSServer {
	if log.IsLevelEnabled(log.TraceLevel) {
		nfs.Log.SetLevel(nfs.TraceLevel)
	} else if log.IsLevelEnabled(log.DebugLevel) {
		nfs.Log.SetLevel(nfs.DebugLevel)
	}
	billyFS := NewBillyAdapter(o)
	handler := nfshelper.NewNullAuthHandler(billyFS)
	cacheHelper := nfshelper.NewCachingHandler(handler, 65536)

	ctx, cancel := context.WithCancel(context.Background())
	server := &nfs.Server{
		Handler: cacheHelper,
		Context: ctx,
	}
	return &NFSServer{
		server: server,
		cancel: cancel,
	}
}

// Listen binds the TCP listener without serving yet.
func (s *NFSServer) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	return nil
}

// Serve blocks handling requests until shutdown. Listen must have
// succeeded first.
func (s *NFSServer) Serve() error {
	return s.server.Serve(s.listener)
}

// Addr returns the bound address, nil before Serve.
func (s *NFSServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the server gracefully. Repeat calls are no-ops.
func (s *NFSServer) Shutdown() {
	s.stopOnce.Do(func() {
		if s.listener != nil {
			s.listener.Close()
		}
		// Settle time for in-flight requests after the listener closes.
		time.Sleep(100 * time.Millisecond)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// hostErr translates core error kinds the go-nfs layer understands into
// os errors; everything else passes through unchanged.
func hostErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrNotFound):
		return os.ErrNotExist
	case errors.Is(err, common.ErrExists):
		return os.ErrExist
	case errors.Is(err, common.ErrNotPermitted):
		return os.ErrPermission
	case errors.Is(err, common.ErrNotSupported):
		return os.ErrInvalid
	default:
		return err
	}
}

// BillyAdapter exposes the operations adapter as a billy.Filesystem.
type BillyAdapter struct {
	ops *ops.Operations
	uid uint32 // cached os.Getuid(), avoids a syscall per Sys() call
	gid uint32
}

// NewBillyAdapter creates a billy adapter over the operations adapter.
func NewBillyAdapter(o *ops.Operations) *BillyAdapter {
	return &BillyAdapter{
		ops: o,
		uid: uint32(os.Getuid()),
		gid: uint32(os.Getgid()),
	}
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	var fh node.Handle
	var err error
	if flag&os.O_CREATE != 0 {
		fh, err = b.ops.Create(filename, int64(perm.Perm()))
		if errors.Is(err, common.ErrExists) {
			fh, err = b.ops.Open(filename)
		}
	} else {
		fh, err = b.ops.Open(filename)
	}
	if err != nil {
		return nil, hostErr(err)
	}
	if flag&os.O_TRUNC != 0 {
		if err := b.ops.Truncate(filename, 0, fh); err != nil {
			_ = b.ops.Release(filename, fh)
			return nil, hostErr(err)
		}
	}
	return &BillyFile{adapter: b, path: filename, fh: fh}, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	fields, err := b.ops.GetAttr(filename, 0)
	if err != nil {
		return nil, hostErr(err)
	}
	return &BillyFileInfo{name: path.Base(filename), path: filename, fields: fields, adapter: b}, nil
}

// Lstat matches Stat; the tree has no symlink-following distinction at
// this boundary.
func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	return hostErr(b.ops.Rename(oldpath, newpath))
}

func (b *BillyAdapter) Remove(filename string) error {
	fields, err := b.ops.GetAttr(filename, 0)
	if err != nil {
		return hostErr(err)
	}
	if fields["st_mode"]&attr.ModeMask == attr.ModeDir {
		return hostErr(b.ops.Rmdir(filename))
	}
	return hostErr(b.ops.Unlink(filename))
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	dh, err := b.ops.OpenDir(dirname)
	if err != nil {
		return nil, hostErr(err)
	}
	defer b.ops.ReleaseDir(dirname, dh)

	names, err := b.ops.ReadDir(dirname, dh)
	if err != nil {
		return nil, hostErr(err)
	}
	var result []os.FileInfo
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		childPath := path.Join(dirname, name)
		fields, err := b.ops.GetAttr(childPath, 0)
		if err != nil {
			// A concurrent remove can race the listing.
			continue
		}
		result = append(result, &BillyFileInfo{name: name, path: childPath, fields: fields, adapter: b})
	}
	return result, nil
}

func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) error {
	parts := common.SplitPath(filename)
	cur := ""
	for _, part := range parts {
		cur = cur + "/" + part
		err := b.ops.Mkdir(cur, int64(perm.Perm()))
		if err != nil && !errors.Is(err, common.ErrExists) {
			return hostErr(err)
		}
	}
	return nil
}

func (b *BillyAdapter) Symlink(target, link string) error {
	return hostErr(b.ops.Symlink(target, link))
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	target, err := b.ops.ReadLink(link)
	return target, hostErr(err)
}

func (b *BillyAdapter) Chroot(path string) (billy.Filesystem, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change interface
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error {
	return hostErr(b.ops.Chmod(name, int64(mode.Perm())))
}

func (b *BillyAdapter) Chown(name string, uid, gid int) error {
	return hostErr(b.ops.Chown(name, int64(uid), int64(gid)))
}

func (b *BillyAdapter) Lchown(name string, uid, gid int) error {
	return b.Chown(name, uid, gid)
}

func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error {
	return hostErr(b.ops.Utimens(name, atime.Unix(), mtime.Unix()))
}

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

// BillyFile is one open handle with a tracked offset.
type BillyFile struct {
	adapter *BillyAdapter
	path    string
	fh      node.Handle
	offset  int64
}

func (f *BillyFile) Name() string {
	return f.path
}

func (f *BillyFile) Write(p []byte) (n int, err error) {
	n, err = f.adapter.ops.Write(f.path, p, f.offset, f.fh)
	if err == nil {
		f.offset += int64(n)
	}
	return n, hostErr(err)
}

func (f *BillyFile) Read(p []byte) (n int, err error) {
	data, err := f.adapter.ops.Read(f.path, len(p), f.offset, f.fh)
	if err != nil {
		return 0, hostErr(err)
	}
	n = copy(p, data)
	f.offset += int64(n)
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *BillyFile) ReadAt(p []byte, off int64) (n int, err error) {
	data, err := f.adapter.ops.Read(f.path, len(p), off, f.fh)
	if err != nil {
		return 0, hostErr(err)
	}
	n = copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	next := f.offset
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next += offset
	case io.SeekEnd:
		fields, err := f.adapter.ops.GetAttr(f.path, f.fh)
		if err != nil {
			return 0, hostErr(err)
		}
		next = fields["st_size"] + offset
	}
	if next < 0 {
		return 0, os.ErrInvalid
	}
	f.offset = next
	return f.offset, nil
}

func (f *BillyFile) Close() error {
	return hostErr(f.adapter.ops.Release(f.path, f.fh))
}

func (f *BillyFile) Lock() error   { return nil }
func (f *BillyFile) Unlock() error { return nil }

func (f *BillyFile) Truncate(size int64) error {
	return hostErr(f.adapter.ops.Truncate(f.path, size, f.fh))
}

// BillyFileInfo presents a stat mapping as os.FileInfo.
type BillyFileInfo struct {
	name    string
	path    string
	fields  map[string]int64
	adapter *BillyAdapter
}

func (fi *BillyFileInfo) Name() string {
	return fi.name
}

func (fi *BillyFileInfo) Size() int64 {
	return fi.fields["st_size"]
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	perm := os.FileMode(fi.fields["st_mode"] & 0777)
	switch fi.fields["st_mode"] & attr.ModeMask {
	case attr.ModeDir:
		return os.ModeDir | perm
	case attr.ModeSymlink:
		return os.ModeSymlink | perm
	default:
		return perm
	}
}

func (fi *BillyFileInfo) ModTime() time.Time {
	return time.Unix(fi.fields["st_mtime"], 0)
}

func (fi *BillyFileInfo) IsDir() bool {
	return fi.fields["st_mode"]&attr.ModeMask == attr.ModeDir
}

// Sys returns the file info type go-nfs recognizes; anything else makes
// the NFS layer fall back to synthetic ids.
func (fi *BillyFileInfo) Sys() interface{} {
	return &nfsfile.FileInfo{
		Nlink:  uint32(fi.fields["st_nlink"]),
		UID:    fi.adapter.uid,
		GID:    fi.adapter.gid,
		Fileid: fi.fileID(),
	}
}

// fileID prefers the stored inode number and falls back to a stable hash
// of the tree path; the tree does not allocate inode numbers itself.
func (fi *BillyFileInfo) fileID() uint64 {
	if ino := fi.fields["st_ino"]; ino != 0 {
		return uint64(ino)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(fi.path))
	return h.Sum64()
}
