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

// Package attr holds the layered attribute model for tree nodes: stat-like
// node attributes, statvfs-like filesystem attributes, and open-ended extra
// attributes. Base containers are read-only; setters are capability-gated
// and fail with ErrNotSupported unless a mutable variant is used.
package attr

import (
	"strings"

	"github.com/redballoonsecurity/shortfuse/internal/common"
)

// File mode constants (POSIX). The high bits of st_mode encode the node
// type, the low 12 bits encode permission.
const (
	ModeDir     int64 = 0040000 // Directory
	ModeFile    int64 = 0100000 // Regular file
	ModeSymlink int64 = 0120000 // Symbolic link
	ModeMask    int64 = 0170000 // Type mask
	PermMask    int64 = 0007777 // Permission mask
)

// NodeAttributes is the contract for a node's stat-like attributes, keyed by
// the standard st_* field names. See stat(2). Getters return the zero value
// when a field is unset. Setters on a read-only instance fail with
// common.ErrNotSupported; mutable implementations mutate in place.
type NodeAttributes interface {
	// All returns a snapshot of every attribute, keyed by its st_* name.
	All() map[string]int64
	// Copy creates an independent instance with selected fields replaced.
	// Override keys may be given with or without the st_ prefix.
	Copy(overrides map[string]int64) NodeAttributes

	Mode() int64
	NodeType() int64
	Permissions() int64
	Ino() int64
	Nlink() int64
	UID() int64
	GID() int64
	Size() int64
	AccessTime() int64
	ModifiedTime() int64
	ChangeTime() int64

	SetMode(mode int64) error
	SetNodeType(nodeType int64) error
	SetPermissions(perm int64) error
	SetIno(ino int64) error
	SetNlink(nlink int64) error
	SetUID(uid int64) error
	SetGID(gid int64) error
	SetSize(size int64) error
	SetAccessTime(atime int64) error
	SetModifiedTime(mtime int64) error
	SetChangeTime(ctime int64) error
}

// Attributes is the read-only base implementation of NodeAttributes.
type Attributes struct {
	fields map[string]int64
}

var _ NodeAttributes = (*Attributes)(nil)

// statKey normalizes an attribute name to its st_* form.
func statKey(name string) string {
	if strings.HasPrefix(name, "st_") {
		return name
	}
	return "st_" + name
}

// New creates read-only node attributes from the given fields. Keys may be
// given with or without the st_ prefix.
func New(fields map[string]int64) *Attributes {
	a := &Attributes{fields: make(map[string]int64, len(fields))}
	for name, value := range fields {
		a.fields[statKey(name)] = value
	}
	return a
}

// All returns a snapshot of every attribute, keyed by its st_* name.
func (a *Attributes) All() map[string]int64 {
	out := make(map[string]int64, len(a.fields))
	for name, value := range a.fields {
		out[name] = value
	}
	return out
}

// Merge returns the attribute fields with the given overrides applied.
// Neither instance is modified.
func (a *Attributes) Merge(overrides map[string]int64) map[string]int64 {
	merged := a.All()
	for name, value := range overrides {
		merged[statKey(name)] = value
	}
	return merged
}

// Copy creates an independent read-only instance with selected fields
// replaced.
func (a *Attributes) Copy(overrides map[string]int64) NodeAttributes {
	return New(a.Merge(overrides))
}

func (a *Attributes) get(name string) int64 { return a.fields[name] }

// Mode returns the combined node type and permission bits.
func (a *Attributes) Mode() int64 { return a.get("st_mode") }

// NodeType returns the type bits of the mode.
func (a *Attributes) NodeType() int64 { return a.Mode() & ModeMask }

// Permissions returns the permission bits of the mode.
func (a *Attributes) Permissions() int64 { return a.Mode() & PermMask }

func (a *Attributes) Ino() int64          { return a.get("st_ino") }
func (a *Attributes) Nlink() int64        { return a.get("st_nlink") }
func (a *Attributes) UID() int64          { return a.get("st_uid") }
func (a *Attributes) GID() int64          { return a.get("st_gid") }
func (a *Attributes) Size() int64         { return a.get("st_size") }
func (a *Attributes) AccessTime() int64   { return a.get("st_atime") }
func (a *Attributes) ModifiedTime() int64 { return a.get("st_mtime") }
func (a *Attributes) ChangeTime() int64   { return a.get("st_ctime") }

func (a *Attributes) SetMode(int64) error { return common.ErrNotSupported }

// SetNodeType combines the requested type bits with the stored permission
// bits; the mode remains the single source of truth.
func (a *Attributes) SetNodeType(nodeType int64) error {
	return a.SetMode((nodeType & ModeMask) | a.Permissions())
}

// SetPermissions combines the requested permission bits with the stored type
// bits; the mode remains the single source of truth.
func (a *Attributes) SetPermissions(perm int64) error {
	return a.SetMode((perm & PermMask) | a.NodeType())
}

func (a *Attributes) SetIno(int64) error          { return common.ErrNotSupported }
func (a *Attributes) SetNlink(int64) error        { return common.ErrNotSupported }
func (a *Attributes) SetUID(int64) error          { return common.ErrNotSupported }
func (a *Attributes) SetGID(int64) error          { return common.ErrNotSupported }
func (a *Attributes) SetSize(int64) error         { return common.ErrNotSupported }
func (a *Attributes) SetAccessTime(int64) error   { return common.ErrNotSupported }
func (a *Attributes) SetModifiedTime(int64) error { return common.ErrNotSupported }
func (a *Attributes) SetChangeTime(int64) error   { return common.ErrNotSupported }

// Mutable is the in-place mutable implementation of NodeAttributes used by
// backends that own their attribute state.
type Mutable struct {
	Attributes
}

var _ NodeAttributes = (*Mutable)(nil)

// NewMutable creates mutable node attributes from the given fields.
func NewMutable(fields map[string]int64) *Mutable {
	return &Mutable{Attributes: *New(fields)}
}

// Copy creates an independent mutable instance with selected fields
// replaced.
func (a *Mutable) Copy(overrides map[string]int64) NodeAttributes {
	return NewMutable(a.Merge(overrides))
}

func (a *Mutable) SetMode(mode int64) error {
	a.fields["st_mode"] = mode
	return nil
}

func (a *Mutable) SetNodeType(nodeType int64) error {
	return a.SetMode((nodeType & ModeMask) | a.Permissions())
}

func (a *Mutable) SetPermissions(perm int64) error {
	return a.SetMode((perm & PermMask) | a.NodeType())
}

func (a *Mutable) SetIno(ino int64) error {
	a.fields["st_ino"] = ino
	return nil
}

func (a *Mutable) SetNlink(nlink int64) error {
	a.fields["st_nlink"] = nlink
	return nil
}

func (a *Mutable) SetUID(uid int64) error {
	a.fields["st_uid"] = uid
	return nil
}

func (a *Mutable) SetGID(gid int64) error {
	a.fields["st_gid"] = gid
	return nil
}

func (a *Mutable) SetSize(size int64) error {
	a.fields["st_size"] = size
	return nil
}

func (a *Mutable) SetAccessTime(atime int64) error {
	a.fields["st_atime"] = atime
	return nil
}

func (a *Mutable) SetModifiedTime(mtime int64) error {
	a.fields["st_mtime"] = mtime
	return nil
}

func (a *Mutable) SetChangeTime(ctime int64) error {
	a.fields["st_ctime"] = ctime
	return nil
}
