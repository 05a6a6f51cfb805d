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

// Package memfs is the reference in-memory backend: file content lives in a
// byte buffer, attributes are fully mutable, and the tree is rooted in a
// near-unlimited filesystem.
package memfs

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/redballoonsecurity/shortfuse/internal/attr"
	"github.com/redballoonsecurity/shortfuse/internal/common"
	"github.com/redballoonsecurity/shortfuse/internal/node"
)

// content is the byte buffer backing one file, shared across open sessions
// and across rename clones.
type content struct {
	mu   sync.Mutex
	data []byte
}

// memOps is the capability set common to every in-memory node: detach on
// delete, allow all access, move by cloning under the new parent.
type memOps struct {
	node.BaseOps
}

func (memOps) Delete(n node.Node) error {
	parent := n.Parent()
	if parent == nil {
		return common.ErrNotPermitted
	}
	return parent.RemoveChild(n.Name())
}

func (memOps) Access(node.Node, int64) error { return nil }

// Rename clones the node under the destination parent and detaches the
// original. Path and name are fixed at construction, so a moved node must
// be rebuilt; content and backend wiring are shared with the clone.
func (memOps) Rename(n node.Node, newPath string) error {
	root, ok := n.Root().(*node.Directory)
	if !ok {
		return common.ErrNotFound
	}
	resolved, err := root.Child(common.ParentPath(newPath))
	if err != nil {
		return err
	}
	parent, ok := resolved.(*node.Directory)
	if !ok {
		return common.ErrNotDir
	}
	clone, err := cloneNode(n, parent, common.BaseName(newPath))
	if err != nil {
		return err
	}
	if newPath == n.Path() {
		return parent.ReplaceChild(clone)
	}
	if err := parent.AddChild(clone); err != nil {
		return err
	}
	return n.Parent().RemoveChild(n.Name())
}

func cloneNode(n node.Node, parent *node.Directory, name string) (node.Node, error) {
	attrs := n.Attributes().Copy(nil)
	fsAttrs := n.FSAttributes().Copy()
	xattrs := n.ExtraAttributes().Copy()
	switch t := n.(type) {
	case *node.Directory:
		ops, ok := t.Ops().(node.DirOps)
		if !ok {
			return nil, common.ErrNotSupported
		}
		d := node.NewDirectory(parent, name, attrs, fsAttrs, xattrs, ops)
		for _, childName := range t.ChildNames() {
			child, err := t.DirectChild(childName)
			if err != nil {
				return nil, err
			}
			childClone, err := cloneNode(child, d, childName)
			if err != nil {
				return nil, err
			}
			if err := d.AddChild(childClone); err != nil {
				return nil, err
			}
		}
		// AddChild counted the children a second time; restore the link
		// count carried over in the attribute copy.
		if err := d.Attributes().SetNlink(n.Attributes().Nlink()); err != nil {
			return nil, err
		}
		return d, nil
	case *node.Link:
		l, err := node.NewLink(parent, name, t.Target(), attrs, fsAttrs, xattrs, t.Ops())
		if err != nil {
			return nil, err
		}
		// The detached link's contribution to the target carries over;
		// undo the constructor's extra bump.
		ta := t.Target().Attributes()
		if err := ta.SetNlink(ta.Nlink() - 1); err != nil {
			return nil, err
		}
		return l, nil
	case *node.File:
		return node.NewFile(parent, name, attrs, fsAttrs, xattrs, t.Ops()), nil
	default:
		return nil, common.ErrNotSupported
	}
}

// fileOps carries the content buffer for one file node.
type fileOps struct {
	memOps
	content *content
}

func (o *fileOps) OpenDescriptor(_ node.Node, snap node.Snapshot) (node.Descriptor, error) {
	return &fileDescriptor{
		FileDescriptorBase: node.NewFileDescriptorBase(snap),
		content:            o.content,
	}, nil
}

type fileDescriptor struct {
	node.FileDescriptorBase
	content *content
}

func (d *fileDescriptor) stamp(size int64) error {
	a := d.Attributes()
	if err := a.SetSize(size); err != nil {
		return err
	}
	now := time.Now().Unix()
	if err := a.SetModifiedTime(now); err != nil {
		return err
	}
	return a.SetAccessTime(now)
}

// Read clamps offset and length to the current content; reading outside
// the buffer yields an empty result, never an error.
func (d *fileDescriptor) Read(size int, offset int64) ([]byte, error) {
	d.content.mu.Lock()
	defer d.content.mu.Unlock()
	length := int64(len(d.content.data))
	if offset < 0 || offset > length {
		return []byte{}, nil
	}
	end := min(length, max(offset+int64(size), offset))
	out := make([]byte, end-offset)
	copy(out, d.content.data[offset:end])
	return out, nil
}

// Write overlays data at offset. An offset outside the current content is
// an invalid seek; only truncate grows with padding.
func (d *fileDescriptor) Write(data []byte, offset int64) (int, error) {
	d.content.mu.Lock()
	defer d.content.mu.Unlock()
	cur := d.content.data
	if offset < 0 || int64(len(cur)) < offset {
		return 0, common.ErrInvalidSeek
	}
	end := offset + int64(len(data))
	next := make([]byte, 0, max(int64(len(cur)), end))
	next = append(next, cur[:offset]...)
	next = append(next, data...)
	if end < int64(len(cur)) {
		next = append(next, cur[end:]...)
	}
	d.content.data = next
	if err := d.stamp(int64(len(next))); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Truncate shrinks by dropping trailing bytes or grows by zero padding.
// A negative length is an invalid seek.
func (d *fileDescriptor) Truncate(length int64) error {
	d.content.mu.Lock()
	defer d.content.mu.Unlock()
	if length < 0 {
		return common.ErrInvalidSeek
	}
	cur := int64(len(d.content.data))
	if length == cur {
		return nil
	}
	if length < cur {
		d.content.data = d.content.data[:length]
	} else {
		d.content.data = append(d.content.data, make([]byte, length-cur)...)
	}
	return d.stamp(length)
}

func (d *fileDescriptor) Flush() error { return nil }

// dirOps creates children that inherit ownership and filesystem attributes
// from their parent.
type dirOps struct {
	memOps
}

func (dirOps) OpenDescriptor(n node.Node, snap node.Snapshot) (node.Descriptor, error) {
	d := n.(*node.Directory)
	dd := node.NewDirectoryDescriptorBase(snap, d.ChildNames)
	return &dd, nil
}

// Delete refuses to detach a directory that still has children.
func (o dirOps) Delete(n node.Node) error {
	d := n.(*node.Directory)
	if len(d.ChildNames()) > 0 {
		return common.ErrNotEmpty
	}
	return o.memOps.Delete(n)
}

func (dirOps) CreateDir(d *node.Directory, name string, mode int64) (*node.Directory, error) {
	child := node.NewDirectory(d, name,
		childAttrs(d, attr.ModeDir, mode, 2),
		d.FSAttributes(), attr.NewMutableExtra(nil), dirOps{})
	if err := d.AddChild(child); err != nil {
		return nil, err
	}
	return child, nil
}

func (dirOps) CreateFile(d *node.Directory, name string, mode int64) (*node.File, error) {
	child := node.NewFile(d, name,
		childAttrs(d, attr.ModeFile, mode, 1),
		d.FSAttributes(), attr.NewMutableExtra(nil),
		&fileOps{content: &content{}})
	if err := d.AddChild(child); err != nil {
		return nil, err
	}
	return child, nil
}

// childAttrs stamps a fresh node with the creating directory's ownership
// and the current time.
func childAttrs(parent *node.Directory, nodeType, mode, nlink int64) attr.NodeAttributes {
	pa := parent.Attributes()
	now := time.Now().Unix()
	return attr.NewMutable(map[string]int64{
		"st_mode":  nodeType | (mode & attr.PermMask),
		"st_size":  0,
		"st_nlink": nlink,
		"st_uid":   pa.UID(),
		"st_gid":   pa.GID(),
		"st_atime": now,
		"st_mtime": now,
		"st_ctime": now,
	})
}

// CreateLink builds a link node under parent and attaches it. The adapter
// does not create links; backends and seeding do it directly.
func CreateLink(parent *node.Directory, name string, target node.Node) (*node.Link, error) {
	l, err := node.NewLink(parent, name, target,
		childAttrs(parent, attr.ModeSymlink, 0777, 1),
		parent.FSAttributes(), attr.NewMutableExtra(nil), memOps{})
	if err != nil {
		return nil, err
	}
	if err := parent.AddChild(l); err != nil {
		return nil, err
	}
	return l, nil
}

// FS is an in-memory tree rooted in a directory reporting near-unlimited
// capacity.
type FS struct {
	*node.Directory
}

// NewFS creates the root with the given permission mask and ownership.
func NewFS(mode, uid, gid int64) *FS {
	now := time.Now().Unix()
	root := node.NewDirectory(nil, "/",
		attr.NewMutable(map[string]int64{
			"st_mode":  attr.ModeDir | (mode & attr.PermMask),
			"st_nlink": 2,
			"st_uid":   uid,
			"st_gid":   gid,
			"st_atime": now,
			"st_mtime": now,
			"st_ctime": now,
		}),
		&attr.FSAttributes{
			BlockSize:       512,
			Blocks:          math.MaxInt64,
			BlocksFree:      math.MaxInt64,
			BlocksAvailable: math.MaxInt64,
			Files:           math.MaxInt64,
			FilesFree:       math.MaxInt64,
			FilesAvailable:  math.MaxInt64,
			FilesystemID:    fsid(),
			NameMax:         255,
		},
		attr.NewMutableExtra(nil), dirOps{})
	return &FS{Directory: root}
}

func (f *FS) Init() error {
	log.Debugf("[memfs] Init: root ready")
	return nil
}

func (f *FS) Destroy() error {
	log.Debugf("[memfs] Destroy")
	return nil
}

func fsid() int64 {
	u := uuid.New()
	return int64(binary.BigEndian.Uint64(u[:8]) &^ (1 << 63))
}
