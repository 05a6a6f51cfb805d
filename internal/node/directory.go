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

package node

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/redballoonsecurity/shortfuse/internal/attr"
	"github.com/redballoonsecurity/shortfuse/internal/common"
)

// DirOps extends Ops with child creation. BaseDirOps rejects both hooks.
type DirOps interface {
	Ops
	CreateDir(d *Directory, name string, mode int64) (*Directory, error)
	CreateFile(d *Directory, name string, mode int64) (*File, error)
}

// BaseDirOps is the zero directory capability set.
type BaseDirOps struct {
	BaseOps
}

func (BaseDirOps) CreateDir(*Directory, string, int64) (*Directory, error) {
	return nil, common.ErrNotPermitted
}
func (BaseDirOps) CreateFile(*Directory, string, int64) (*File, error) {
	return nil, common.ErrNotPermitted
}

// Directory is a node holding named children. The children map has its own
// lock; when both a node lock and a children lock are taken, parents lock
// before descendants and the children lock is taken first on the same node.
type Directory struct {
	base
	dirOps DirOps

	childrenMu sync.Mutex
	children   map[string]Node
}

// NewDirectory creates a directory node under parent. A nil ops gets the
// zero capability set.
func NewDirectory(parent *Directory, name string, attrs attr.NodeAttributes, fsAttrs *attr.FSAttributes, xattrs attr.ExtraAttributes, ops DirOps) *Directory {
	if ops == nil {
		ops = BaseDirOps{}
	}
	d := &Directory{
		base:     newBase(parent, name, attrs, fsAttrs, xattrs, ops),
		dirOps:   ops,
		children: make(map[string]Node),
	}
	d.self = d
	return d
}

// DirectoryDescriptor returns the open descriptor narrowed to child listing.
func (d *Directory) DirectoryDescriptor(h Handle) (DirectoryDescriptor, error) {
	desc, err := d.Descriptor(h)
	if err != nil {
		return nil, err
	}
	dd, ok := desc.(DirectoryDescriptor)
	if !ok {
		log.Errorf("[node] Descriptor for %s does not support child listing", d.path)
		return nil, common.ErrBadHandle
	}
	return dd, nil
}

// CreateDir creates and attaches a child directory through the backend.
func (d *Directory) CreateDir(name string, mode int64) (*Directory, error) {
	return d.dirOps.CreateDir(d, name, mode)
}

// CreateFile creates and attaches a child file through the backend.
func (d *Directory) CreateFile(name string, mode int64) (*File, error) {
	return d.dirOps.CreateFile(d, name, mode)
}

// ChildNames returns the current child names, unordered.
func (d *Directory) ChildNames() []string {
	d.childrenMu.Lock()
	defer d.childrenMu.Unlock()
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	return names
}

// DirectChild returns the immediate child with the given name.
func (d *Directory) DirectChild(name string) (Node, error) {
	d.childrenMu.Lock()
	defer d.childrenMu.Unlock()
	child, ok := d.children[name]
	if !ok {
		return nil, common.ErrNotFound
	}
	return child, nil
}

// HasDirectChild reports whether an immediate child with the name exists.
func (d *Directory) HasDirectChild(name string) bool {
	d.childrenMu.Lock()
	defer d.childrenMu.Unlock()
	_, ok := d.children[name]
	return ok
}

// Child resolves a slash-separated path relative to this directory, one
// segment at a time. Empty segments are skipped, so "a//b" and "/a/b/"
// resolve like "a/b". No lock is held across segments; a concurrent rename
// can make the walk observe a mix of old and new structure.
func (d *Directory) Child(path string) (Node, error) {
	var cur Node = d.self
	for _, part := range common.SplitPath(path) {
		dir, ok := cur.(*Directory)
		if !ok {
			log.Errorf("[node] Expected a directory at %s while resolving %s", cur.Path(), path)
			return nil, common.ErrNotFound
		}
		next, err := dir.DirectChild(part)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// AddChild attaches a node under its own name, bumps the directory's link
// count and stamps its times. A name collision fails with ErrExists and
// leaves the directory untouched.
func (d *Directory) AddChild(child Node) error {
	d.childrenMu.Lock()
	defer d.childrenMu.Unlock()
	if _, ok := d.children[child.Name()]; ok {
		return common.ErrExists
	}
	if err := touch(d.self, 1); err != nil {
		return err
	}
	d.children[child.Name()] = child
	return nil
}

// RemoveChild detaches the named child, drops the directory's link count
// and stamps its times. A missing name fails with ErrNotFound.
func (d *Directory) RemoveChild(name string) error {
	d.childrenMu.Lock()
	defer d.childrenMu.Unlock()
	if _, ok := d.children[name]; !ok {
		return common.ErrNotFound
	}
	if err := touch(d.self, -1); err != nil {
		return err
	}
	delete(d.children, name)
	return nil
}

// ReplaceChild swaps an existing child for a node with the same name. The
// link count is unchanged; only the times are stamped.
func (d *Directory) ReplaceChild(child Node) error {
	d.childrenMu.Lock()
	defer d.childrenMu.Unlock()
	if _, ok := d.children[child.Name()]; !ok {
		log.Errorf("[node] No child named %s to replace in %s", child.Name(), d.path)
		return common.ErrNotFound
	}
	if err := touch(d.self, 0); err != nil {
		return err
	}
	d.children[child.Name()] = child
	return nil
}
