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

package dbfs

import (
	"context"
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

// nodeOps is shared by every database-backed node: detach on delete, allow
// all access. Moves are not supported because content rows are keyed by
// path.
type nodeOps struct {
	node.BaseOps
	store *Store
}

func (o *nodeOps) Access(node.Node, int64) error { return nil }

func (o *nodeOps) Delete(n node.Node) error {
	parent := n.Parent()
	if parent == nil {
		return common.ErrNotPermitted
	}
	if err := parent.RemoveChild(n.Name()); err != nil {
		return err
	}
	if err := o.store.DeleteContent(context.Background(), n.Path()); err != nil {
		log.Errorf("[dbfs] Failed to drop content row for %s: %v", n.Path(), err)
		return common.ErrIO
	}
	return nil
}

// fileOps loads content at first open and persists it on last close.
type fileOps struct {
	nodeOps
}

func (o *fileOps) OpenDescriptor(n node.Node, snap node.Snapshot) (node.Descriptor, error) {
	data, err := o.store.LoadContent(context.Background(), n.Path())
	if err != nil {
		log.Errorf("[dbfs] Failed to load content for %s: %v", n.Path(), err)
		return nil, common.ErrIO
	}
	if err := snap.Attributes.SetSize(int64(len(data))); err != nil {
		return nil, err
	}
	return &storedFileDescriptor{
		FileDescriptorBase: node.NewFileDescriptorBase(snap),
		store:              o.store,
		key:                n.Path(),
		data:               data,
	}, nil
}

type storedFileDescriptor struct {
	node.FileDescriptorBase
	store *Store
	key   string

	mu    sync.Mutex
	data  []byte
	dirty bool
}

func (d *storedFileDescriptor) stamp(size int64) error {
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

func (d *storedFileDescriptor) Read(size int, offset int64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	length := int64(len(d.data))
	if offset < 0 || offset > length {
		return []byte{}, nil
	}
	end := min(length, max(offset+int64(size), offset))
	out := make([]byte, end-offset)
	copy(out, d.data[offset:end])
	return out, nil
}

func (d *storedFileDescriptor) Write(data []byte, offset int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset < 0 || int64(len(d.data)) < offset {
		return 0, common.ErrInvalidSeek
	}
	end := offset + int64(len(data))
	next := make([]byte, 0, max(int64(len(d.data)), end))
	next = append(next, d.data[:offset]...)
	next = append(next, data...)
	if end < int64(len(d.data)) {
		next = append(next, d.data[end:]...)
	}
	d.data = next
	d.dirty = true
	if err := d.stamp(int64(len(next))); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (d *storedFileDescriptor) Truncate(length int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if length < 0 {
		return common.ErrInvalidSeek
	}
	cur := int64(len(d.data))
	if length == cur {
		return nil
	}
	if length < cur {
		d.data = d.data[:length]
	} else {
		d.data = append(d.data, make([]byte, length-cur)...)
	}
	d.dirty = true
	return d.stamp(length)
}

func (d *storedFileDescriptor) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persist()
}

func (d *storedFileDescriptor) Sync(bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persist()
}

// Release makes the session durable before the attribute copies are
// committed back onto the node.
func (d *storedFileDescriptor) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persist()
}

func (d *storedFileDescriptor) persist() error {
	if !d.dirty {
		return nil
	}
	if err := d.store.SaveContent(context.Background(), d.key, d.data); err != nil {
		log.Errorf("[dbfs] Failed to persist content for %s: %v", d.key, err)
		return common.ErrIO
	}
	d.dirty = false
	return nil
}

// dirOps creates database-backed children inheriting ownership from the
// parent.
type dirOps struct {
	nodeOps
}

func (o *dirOps) OpenDescriptor(n node.Node, snap node.Snapshot) (node.Descriptor, error) {
	d := n.(*node.Directory)
	dd := node.NewDirectoryDescriptorBase(snap, d.ChildNames)
	return &dd, nil
}

func (o *dirOps) Delete(n node.Node) error {
	d := n.(*node.Directory)
	if len(d.ChildNames()) > 0 {
		return common.ErrNotEmpty
	}
	return o.nodeOps.Delete(n)
}

func (o *dirOps) CreateDir(d *node.Directory, name string, mode int64) (*node.Directory, error) {
	child := node.NewDirectory(d, name,
		childAttrs(d, attr.ModeDir, mode, 2),
		d.FSAttributes(), attr.NewMutableExtra(nil),
		&dirOps{nodeOps{store: o.store}})
	if err := d.AddChild(child); err != nil {
		return nil, err
	}
	return child, nil
}

func (o *dirOps) CreateFile(d *node.Directory, name string, mode int64) (*node.File, error) {
	child := node.NewFile(d, name,
		childAttrs(d, attr.ModeFile, mode, 1),
		d.FSAttributes(), attr.NewMutableExtra(nil),
		&fileOps{nodeOps{store: o.store}})
	if err := d.AddChild(child); err != nil {
		return nil, err
	}
	return child, nil
}

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

// FS is a tree whose file content lives in a Store. The tree structure
// itself is rebuilt per process; only content rows are durable.
type FS struct {
	*node.Directory
	store *Store
}

// NewFS creates a database-backed root over an open store.
func NewFS(store *Store, mode, uid, gid int64) *FS {
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
		attr.NewMutableExtra(nil),
		&dirOps{nodeOps{store: store}})
	return &FS{Directory: root, store: store}
}

func (f *FS) Init() error {
	log.Debugf("[dbfs] Init: content store attached")
	return nil
}

// Destroy closes the content store.
func (f *FS) Destroy() error {
	log.Debugf("[dbfs] Destroy: closing content store")
	return f.store.Close()
}

func fsid() int64 {
	u := uuid.New()
	return int64(binary.BigEndian.Uint64(u[:8]) &^ (1 << 63))
}
