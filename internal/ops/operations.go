// Copyright 2024 ShortFUSE Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ops is the stateless dispatcher between a host runtime and the
// node tree. Each verb resolves its path from the root, checks the node
// variant it requires, and forwards to the node or descriptor. Failures are
// logged and re-raised unmodified; the adapter never translates an error
// kind.
package ops

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/redballoonsecurity/shortfuse/internal/common"
	"github.com/redballoonsecurity/shortfuse/internal/node"
)

// Operations dispatches host-runtime verbs onto a mounted root.
type Operations struct {
	root node.Root
}

// New creates an adapter over the given root.
func New(root node.Root) *Operations {
	return &Operations{root: root}
}

// Root returns the mounted root.
func (o *Operations) Root() node.Root { return o.root }

func fail(verb, path string, err error) error {
	if err != nil {
		log.Errorf("[FS] %s %q failed: %v", verb, path, err)
	}
	return err
}

func (o *Operations) node(path string) (node.Node, error) {
	return o.root.Child(path)
}

func (o *Operations) dir(path string) (*node.Directory, error) {
	n, err := o.node(path)
	if err != nil {
		return nil, err
	}
	d, ok := n.(*node.Directory)
	if !ok {
		return nil, common.ErrNotDir
	}
	return d, nil
}

func (o *Operations) file(path string) (*node.File, error) {
	n, err := o.node(path)
	if err != nil {
		return nil, err
	}
	f, ok := n.(*node.File)
	if !ok {
		return nil, common.ErrIsDir
	}
	return f, nil
}

// Init runs the root's startup hook before the first request.
func (o *Operations) Init() error {
	log.Debugf("[FS] Init")
	return fail("Init", "/", o.root.Init())
}

// Destroy runs the root's shutdown hook after the last request.
func (o *Operations) Destroy() error {
	log.Debugf("[FS] Destroy")
	return fail("Destroy", "/", o.root.Destroy())
}

func (o *Operations) Access(path string, mask int64) error {
	log.Debugf("[FS] Access: path=%q mask=%o", path, mask)
	n, err := o.node(path)
	if err != nil {
		return fail("Access", path, err)
	}
	return fail("Access", path, n.Access(mask))
}

func (o *Operations) Chmod(path string, mode int64) error {
	log.Debugf("[FS] Chmod: path=%q mode=%o", path, mode)
	n, err := o.node(path)
	if err != nil {
		return fail("Chmod", path, err)
	}
	return fail("Chmod", path, n.Attributes().SetPermissions(mode))
}

func (o *Operations) Chown(path string, uid, gid int64) error {
	log.Debugf("[FS] Chown: path=%q uid=%d gid=%d", path, uid, gid)
	n, err := o.node(path)
	if err != nil {
		return fail("Chown", path, err)
	}
	a := n.Attributes()
	if err := a.SetUID(uid); err != nil {
		return fail("Chown", path, err)
	}
	return fail("Chown", path, a.SetGID(gid))
}

// Create makes a file under its parent directory and opens it.
func (o *Operations) Create(path string, mode int64) (node.Handle, error) {
	log.Debugf("[FS] Create: path=%q mode=%o", path, mode)
	parent, err := o.dir(common.ParentPath(path))
	if err != nil {
		return 0, fail("Create", path, err)
	}
	f, err := parent.CreateFile(common.BaseName(path), mode)
	if err != nil {
		return 0, fail("Create", path, err)
	}
	fh, err := f.Open()
	return fh, fail("Create", path, err)
}

func (o *Operations) Flush(path string, fh node.Handle) error {
	log.Debugf("[FS] Flush: path=%q fh=%d", path, fh)
	f, err := o.file(path)
	if err != nil {
		return fail("Flush", path, err)
	}
	fd, err := f.FileDescriptor(fh)
	if err != nil {
		return fail("Flush", path, err)
	}
	return fail("Flush", path, fd.Flush())
}

func (o *Operations) Fsync(path string, datasync bool, fh node.Handle) error {
	log.Debugf("[FS] Fsync: path=%q datasync=%t fh=%d", path, datasync, fh)
	f, err := o.file(path)
	if err != nil {
		return fail("Fsync", path, err)
	}
	fd, err := f.FileDescriptor(fh)
	if err != nil {
		return fail("Fsync", path, err)
	}
	return fail("Fsync", path, fd.Sync(!datasync))
}

func (o *Operations) Fsyncdir(path string, datasync bool, fh node.Handle) error {
	log.Debugf("[FS] Fsyncdir: path=%q datasync=%t fh=%d", path, datasync, fh)
	d, err := o.dir(path)
	if err != nil {
		return fail("Fsyncdir", path, err)
	}
	dd, err := d.DirectoryDescriptor(fh)
	if err != nil {
		return fail("Fsyncdir", path, err)
	}
	return fail("Fsyncdir", path, dd.Sync(!datasync))
}

// GetAttr returns the stat mapping; with an open handle it reads the
// descriptor's working copy for that handle.
func (o *Operations) GetAttr(path string, fh node.Handle) (fields map[string]int64, err error) {
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[FS] GetAttr %q fh=%d → %v (%v)", path, fh, err, time.Since(start)) }()
	}
	n, err := o.node(path)
	if err != nil {
		return nil, fail("GetAttr", path, err)
	}
	if fh != 0 {
		d, err := n.Descriptor(fh)
		if err != nil {
			return nil, fail("GetAttr", path, err)
		}
		return d.Attributes().All(), nil
	}
	return n.Attributes().All(), nil
}

// GetXattr returns the named extra attribute, "" when absent.
func (o *Operations) GetXattr(path, name string) (string, error) {
	log.Debugf("[FS] GetXattr: path=%q name=%q", path, name)
	n, err := o.node(path)
	if err != nil {
		return "", fail("GetXattr", path, err)
	}
	return n.ExtraAttributes().Get(name), nil
}

func (o *Operations) ListXattr(path string) ([]string, error) {
	log.Debugf("[FS] ListXattr: path=%q", path)
	n, err := o.node(path)
	if err != nil {
		return nil, fail("ListXattr", path, err)
	}
	return n.ExtraAttributes().Names(), nil
}

func (o *Operations) SetXattr(path, name, value string) error {
	log.Debugf("[FS] SetXattr: path=%q name=%q", path, name)
	n, err := o.node(path)
	if err != nil {
		return fail("SetXattr", path, err)
	}
	return fail("SetXattr", path, n.ExtraAttributes().Set(name, value))
}

func (o *Operations) RemoveXattr(path, name string) error {
	log.Debugf("[FS] RemoveXattr: path=%q name=%q", path, name)
	n, err := o.node(path)
	if err != nil {
		return fail("RemoveXattr", path, err)
	}
	return fail("RemoveXattr", path, n.ExtraAttributes().Remove(name))
}

func (o *Operations) Mkdir(path string, mode int64) error {
	log.Debugf("[FS] Mkdir: path=%q mode=%o", path, mode)
	parent, err := o.dir(common.ParentPath(path))
	if err != nil {
		return fail("Mkdir", path, err)
	}
	_, err = parent.CreateDir(common.BaseName(path), mode)
	return fail("Mkdir", path, err)
}

// Open opens a file node and returns its handle.
func (o *Operations) Open(path string) (fh node.Handle, err error) {
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[FS] Open %q → fh=%d %v (%v)", path, fh, err, time.Since(start)) }()
	}
	log.Debugf("[FS] Open: path=%q", path)
	f, err := o.file(path)
	if err != nil {
		return 0, fail("Open", path, err)
	}
	fh, err = f.Open()
	return fh, fail("Open", path, err)
}

func (o *Operations) OpenDir(path string) (node.Handle, error) {
	log.Debugf("[FS] OpenDir: path=%q", path)
	d, err := o.dir(path)
	if err != nil {
		return 0, fail("OpenDir", path, err)
	}
	fh, err := d.Open()
	return fh, fail("OpenDir", path, err)
}

func (o *Operations) Read(path string, size int, offset int64, fh node.Handle) (data []byte, err error) {
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[FS] Read %q size=%d off=%d → %v (%v)", path, size, offset, err, time.Since(start)) }()
	}
	f, err := o.file(path)
	if err != nil {
		return nil, fail("Read", path, err)
	}
	fd, err := f.FileDescriptor(fh)
	if err != nil {
		return nil, fail("Read", path, err)
	}
	data, err = fd.Read(size, offset)
	return data, fail("Read", path, err)
}

// ReadDir lists a directory through its open descriptor: "." and ".."
// followed by the sorted child names.
func (o *Operations) ReadDir(path string, fh node.Handle) ([]string, error) {
	log.Debugf("[FS] ReadDir: path=%q fh=%d", path, fh)
	d, err := o.dir(path)
	if err != nil {
		return nil, fail("ReadDir", path, err)
	}
	dd, err := d.DirectoryDescriptor(fh)
	if err != nil {
		return nil, fail("ReadDir", path, err)
	}
	return dd.ChildrenNames(), nil
}

// ReadLink returns a link's target path relative to its parent. On any
// other node it returns the node's own path.
func (o *Operations) ReadLink(path string) (string, error) {
	log.Debugf("[FS] ReadLink: path=%q", path)
	n, err := o.node(path)
	if err != nil {
		return "", fail("ReadLink", path, err)
	}
	l, ok := n.(*node.Link)
	if !ok {
		return n.Path(), nil
	}
	target, err := l.TargetPath()
	return target, fail("ReadLink", path, err)
}

func (o *Operations) Release(path string, fh node.Handle) error {
	log.Debugf("[FS] Release: path=%q fh=%d", path, fh)
	f, err := o.file(path)
	if err != nil {
		return fail("Release", path, err)
	}
	return fail("Release", path, f.Close(fh))
}

func (o *Operations) ReleaseDir(path string, fh node.Handle) error {
	log.Debugf("[FS] ReleaseDir: path=%q fh=%d", path, fh)
	d, err := o.dir(path)
	if err != nil {
		return fail("ReleaseDir", path, err)
	}
	return fail("ReleaseDir", path, d.Close(fh))
}

// Rename moves a node. The destination parent must resolve to a directory
// before the node's backend is asked to do the move.
func (o *Operations) Rename(oldPath, newPath string) error {
	log.Debugf("[FS] Rename: old=%q new=%q", oldPath, newPath)
	n, err := o.node(oldPath)
	if err != nil {
		return fail("Rename", oldPath, err)
	}
	if _, err := o.dir(common.ParentPath(newPath)); err != nil {
		return fail("Rename", newPath, err)
	}
	return fail("Rename", oldPath, n.Rename(newPath))
}

func (o *Operations) Rmdir(path string) error {
	log.Debugf("[FS] Rmdir: path=%q", path)
	d, err := o.dir(path)
	if err != nil {
		return fail("Rmdir", path, err)
	}
	return fail("Rmdir", path, d.Delete())
}

func (o *Operations) Unlink(path string) error {
	log.Debugf("[FS] Unlink: path=%q", path)
	n, err := o.node(path)
	if err != nil {
		return fail("Unlink", path, err)
	}
	if _, ok := n.(*node.Directory); ok {
		return fail("Unlink", path, common.ErrIsDir)
	}
	return fail("Unlink", path, n.Delete())
}

// StatFS returns the statvfs mapping of the node's filesystem attributes.
func (o *Operations) StatFS(path string) (map[string]int64, error) {
	log.Debugf("[FS] StatFS: path=%q", path)
	n, err := o.node(path)
	if err != nil {
		return nil, fail("StatFS", path, err)
	}
	return n.FSAttributes().All(), nil
}

// Symlink creation is outside the adapter's scope; link nodes are built by
// backends directly.
func (o *Operations) Symlink(target, link string) error {
	log.Debugf("[FS] Symlink: target=%q link=%q", target, link)
	return fail("Symlink", link, common.ErrNotSupported)
}

// Truncate resizes a file. Without an open handle it opens a transient one
// for the duration of the call.
func (o *Operations) Truncate(path string, length int64, fh node.Handle) error {
	log.Debugf("[FS] Truncate: path=%q length=%d fh=%d", path, length, fh)
	f, err := o.file(path)
	if err != nil {
		return fail("Truncate", path, err)
	}
	transient := fh == 0
	if transient {
		if fh, err = f.Open(); err != nil {
			return fail("Truncate", path, err)
		}
	}
	fd, err := f.FileDescriptor(fh)
	if err == nil {
		err = fd.Truncate(length)
	}
	if transient {
		if closeErr := f.Close(fh); err == nil {
			err = closeErr
		}
	}
	return fail("Truncate", path, err)
}

// Utimens sets the access and modification times.
func (o *Operations) Utimens(path string, atime, mtime int64) error {
	log.Debugf("[FS] Utimens: path=%q atime=%d mtime=%d", path, atime, mtime)
	n, err := o.node(path)
	if err != nil {
		return fail("Utimens", path, err)
	}
	a := n.Attributes()
	if err := a.SetAccessTime(atime); err != nil {
		return fail("Utimens", path, err)
	}
	return fail("Utimens", path, a.SetModifiedTime(mtime))
}

func (o *Operations) Write(path string, data []byte, offset int64, fh node.Handle) (n int, err error) {
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[FS] Write %q len=%d off=%d → %v (%v)", path, len(data), offset, err, time.Since(start)) }()
	}
	f, err := o.file(path)
	if err != nil {
		return 0, fail("Write", path, err)
	}
	fd, err := f.FileDescriptor(fh)
	if err != nil {
		return 0, fail("Write", path, err)
	}
	n, err = fd.Write(data, offset)
	return n, fail("Write", path, err)
}
