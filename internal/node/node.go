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

// Package node implements the virtual filesystem node tree: typed nodes
// with layered attributes, refcounted open handles sharing a single
// descriptor per node, and capability-gated backend operations.
package node

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/redballoonsecurity/shortfuse/internal/attr"
	"github.com/redballoonsecurity/shortfuse/internal/common"
)

// Handle identifies one open of a node. Handles are per-node, monotonically
// increasing from 1, and never recycled within a node's lifetime.
type Handle uint64

// Ops is the backend capability surface attached to a node. BaseOps rejects
// everything; backends supply behavior by implementing the hooks they
// support.
type Ops interface {
	// OpenDescriptor builds the shared descriptor at first open. The
	// snapshot already holds private copies of the node's attributes; the
	// node lock is held, so implementations must not call back into locked
	// node methods.
	OpenDescriptor(n Node, snap Snapshot) (Descriptor, error)
	Delete(n Node) error
	Access(n Node, mask int64) error
	Rename(n Node, newPath string) error
}

// BaseOps is the zero capability set: every operation fails with
// ErrNotPermitted.
type BaseOps struct{}

func (BaseOps) OpenDescriptor(Node, Snapshot) (Descriptor, error) {
	return nil, common.ErrNotPermitted
}
func (BaseOps) Delete(Node) error          { return common.ErrNotPermitted }
func (BaseOps) Access(Node, int64) error   { return common.ErrNotPermitted }
func (BaseOps) Rename(Node, string) error  { return common.ErrNotPermitted }

// Node is a single member of the tree. Path, name and parent are fixed at
// construction; mutation happens through attributes and descriptors.
type Node interface {
	Path() string
	Name() string
	Parent() *Directory
	Root() Node

	Open() (Handle, error)
	Close(h Handle) error
	Descriptor(h Handle) (Descriptor, error)

	// Attributes returns the open descriptor's working copy when one
	// exists, the node's own attributes otherwise. FSAttributes and
	// ExtraAttributes behave the same way.
	Attributes() attr.NodeAttributes
	FSAttributes() *attr.FSAttributes
	ExtraAttributes() attr.ExtraAttributes

	Delete() error
	Access(mask int64) error
	Rename(newPath string) error
}

type base struct {
	path   string
	name   string
	parent *Directory
	ops    Ops
	self   Node

	mu         sync.Mutex
	attrs      attr.NodeAttributes
	fsAttrs    *attr.FSAttributes
	xattrs     attr.ExtraAttributes
	nextHandle Handle
	open       map[Handle]struct{}
	desc       Descriptor
}

func newBase(parent *Directory, name string, attrs attr.NodeAttributes, fsAttrs *attr.FSAttributes, xattrs attr.ExtraAttributes, ops Ops) base {
	p := name
	if parent != nil {
		p = common.JoinPath(parent.Path(), name)
	}
	if ops == nil {
		ops = BaseOps{}
	}
	return base{
		path:       p,
		name:       name,
		parent:     parent,
		ops:        ops,
		attrs:      attrs,
		fsAttrs:    fsAttrs,
		xattrs:     xattrs,
		nextHandle: 1,
		open:       make(map[Handle]struct{}),
	}
}

// Ops returns the capability set attached at construction.
func (b *base) Ops() Ops { return b.ops }

func (b *base) Path() string       { return b.path }
func (b *base) Name() string       { return b.name }
func (b *base) Parent() *Directory { return b.parent }

func (b *base) Root() Node {
	n := b.self
	for n.Parent() != nil {
		n = n.Parent()
	}
	return n
}

// Open returns a new handle. The first open builds the shared descriptor
// from private attribute copies; a descriptor build failure leaves the node
// unopened.
func (b *base) Open() (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.desc == nil {
		snap := Snapshot{
			Attributes:      b.attrs.Copy(nil),
			FSAttributes:    b.fsAttrs.Copy(),
			ExtraAttributes: b.xattrs.Copy(),
		}
		d, err := b.ops.OpenDescriptor(b.self, snap)
		if err != nil {
			return 0, err
		}
		b.desc = d
	}
	h := b.nextHandle
	b.nextHandle++
	b.open[h] = struct{}{}
	return h, nil
}

// Close releases a handle. The last close frees the descriptor and commits
// its attribute copies back onto the node; the commit happens even when the
// release hook fails, which is then reported as an I/O error.
func (b *base) Close(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.open[h]; !ok {
		return common.ErrBadHandle
	}
	delete(b.open, h)
	if len(b.open) > 0 {
		return nil
	}
	d := b.desc
	b.desc = nil
	releaseErr := d.Release()
	b.attrs = d.Attributes()
	b.fsAttrs = d.FSAttributes()
	b.xattrs = d.ExtraAttributes()
	if releaseErr != nil {
		log.Errorf("[node] Failed to release descriptor for %s: %v", b.path, releaseErr)
		return common.ErrIO
	}
	return nil
}

// Descriptor returns the shared descriptor for an open handle.
func (b *base) Descriptor(h Handle) (Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.open[h]; !ok {
		return nil, common.ErrBadHandle
	}
	return b.desc, nil
}

func (b *base) Attributes() attr.NodeAttributes {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.desc != nil {
		return b.desc.Attributes()
	}
	return b.attrs
}

func (b *base) FSAttributes() *attr.FSAttributes {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.desc != nil {
		return b.desc.FSAttributes()
	}
	return b.fsAttrs
}

func (b *base) ExtraAttributes() attr.ExtraAttributes {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.desc != nil {
		return b.desc.ExtraAttributes()
	}
	return b.xattrs
}

func (b *base) Delete() error             { return b.ops.Delete(b.self) }
func (b *base) Access(mask int64) error   { return b.ops.Access(b.self, mask) }
func (b *base) Rename(newPath string) error { return b.ops.Rename(b.self, newPath) }

// touch stamps the access and modification times and optionally adjusts the
// link count, through the descriptor-aware attribute view.
func touch(n Node, nlinkDelta int64) error {
	a := n.Attributes()
	if nlinkDelta != 0 {
		if err := a.SetNlink(a.Nlink() + nlinkDelta); err != nil {
			return err
		}
	}
	now := time.Now().Unix()
	if err := a.SetAccessTime(now); err != nil {
		return err
	}
	return a.SetModifiedTime(now)
}

// File is a regular file node. Content access goes through the
// FileDescriptor its backend builds at open.
type File struct {
	base
}

// NewFile creates a file node under parent. A nil ops gets the zero
// capability set.
func NewFile(parent *Directory, name string, attrs attr.NodeAttributes, fsAttrs *attr.FSAttributes, xattrs attr.ExtraAttributes, ops Ops) *File {
	f := &File{base: newBase(parent, name, attrs, fsAttrs, xattrs, ops)}
	f.self = f
	return f
}

// FileDescriptor returns the open descriptor narrowed to content access.
func (f *File) FileDescriptor(h Handle) (FileDescriptor, error) {
	d, err := f.Descriptor(h)
	if err != nil {
		return nil, err
	}
	fd, ok := d.(FileDescriptor)
	if !ok {
		log.Errorf("[node] Descriptor for %s does not support content access", f.path)
		return nil, common.ErrBadHandle
	}
	return fd, nil
}
