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
	"sort"

	"github.com/redballoonsecurity/shortfuse/internal/attr"
	"github.com/redballoonsecurity/shortfuse/internal/common"
)

// Snapshot carries private working copies of a node's three attribute
// containers, taken under the node lock at first open (copy-on-open). The
// copies are merged back onto the node when the last handle closes
// (commit-on-close).
type Snapshot struct {
	Attributes      attr.NodeAttributes
	FSAttributes    *attr.FSAttributes
	ExtraAttributes attr.ExtraAttributes
}

// Descriptor is the shared open-session state for a node. One descriptor
// exists per node at most, shared by every currently open handle.
type Descriptor interface {
	Attributes() attr.NodeAttributes
	FSAttributes() *attr.FSAttributes
	ExtraAttributes() attr.ExtraAttributes

	// Sync flushes the node content; when withMetadata is false the
	// metadata may be skipped.
	Sync(withMetadata bool) error
	// Release frees backend resources when the last handle closes. It runs
	// before the attribute copies are committed back onto the node.
	Release() error
}

// FileDescriptor extends Descriptor with byte-level content access.
type FileDescriptor interface {
	Descriptor

	Read(size int, offset int64) ([]byte, error)
	Write(data []byte, offset int64) (int, error)
	Truncate(length int64) error
	Flush() error
}

// DirectoryDescriptor extends Descriptor with child listing.
type DirectoryDescriptor interface {
	Descriptor

	// ChildrenNames returns "." and ".." followed by the directory's child
	// names in lexicographic order.
	ChildrenNames() []string
}

// DescriptorBase implements Descriptor over a Snapshot. Backend descriptors
// embed it and add their read/write state.
type DescriptorBase struct {
	snap Snapshot
}

// NewDescriptorBase creates a descriptor over the given attribute snapshot.
func NewDescriptorBase(snap Snapshot) DescriptorBase {
	return DescriptorBase{snap: snap}
}

func (d *DescriptorBase) Attributes() attr.NodeAttributes      { return d.snap.Attributes }
func (d *DescriptorBase) FSAttributes() *attr.FSAttributes     { return d.snap.FSAttributes }
func (d *DescriptorBase) ExtraAttributes() attr.ExtraAttributes { return d.snap.ExtraAttributes }

func (d *DescriptorBase) Sync(bool) error { return nil }
func (d *DescriptorBase) Release() error  { return nil }

// FileDescriptorBase implements FileDescriptor with every content operation
// capability-gated; backends override what they support.
type FileDescriptorBase struct {
	DescriptorBase
}

// NewFileDescriptorBase creates a gated file descriptor over the snapshot.
func NewFileDescriptorBase(snap Snapshot) FileDescriptorBase {
	return FileDescriptorBase{DescriptorBase: NewDescriptorBase(snap)}
}

func (d *FileDescriptorBase) Read(int, int64) ([]byte, error)   { return nil, common.ErrNotPermitted }
func (d *FileDescriptorBase) Write([]byte, int64) (int, error)  { return 0, common.ErrNotPermitted }
func (d *FileDescriptorBase) Truncate(int64) error              { return common.ErrNotPermitted }
func (d *FileDescriptorBase) Flush() error                      { return common.ErrNotPermitted }

// DirectoryDescriptorBase implements DirectoryDescriptor over a child name
// lister supplied by the backend.
type DirectoryDescriptorBase struct {
	DescriptorBase
	children func() []string
}

// NewDirectoryDescriptorBase creates a directory descriptor; children
// returns the current unordered child names.
func NewDirectoryDescriptorBase(snap Snapshot, children func() []string) DirectoryDescriptorBase {
	return DirectoryDescriptorBase{DescriptorBase: NewDescriptorBase(snap), children: children}
}

// ChildrenNames returns "." and ".." followed by the sorted child names.
// Sorting keeps the listing deterministic under concurrent mutation.
func (d *DirectoryDescriptorBase) ChildrenNames() []string {
	names := d.children()
	sort.Strings(names)
	return append([]string{".", ".."}, names...)
}
