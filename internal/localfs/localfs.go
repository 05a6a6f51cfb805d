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

// Package localfs backs file nodes with a cached local copy. It is useful
// when the remote store offers no granular byte access: the content is
// fetched into a temp file on first open and served from there.
package localfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/redballoonsecurity/shortfuse/internal/attr"
	"github.com/redballoonsecurity/shortfuse/internal/common"
	"github.com/redballoonsecurity/shortfuse/internal/node"
)

// ContentLoader fetches a node's content from the backing store into the
// file at path. The created file may be empty when the store holds nothing
// for the node yet.
type ContentLoader func(n node.Node, path string) error

// CachedFileOps opens descriptors over a lazily downloaded local copy.
type CachedFileOps struct {
	node.BaseOps
	TempDir string
	Load    ContentLoader
}

func (o *CachedFileOps) Access(node.Node, int64) error { return nil }

// OpenDescriptor runs under the node lock, so the load happens at most once
// per cold open and concurrent first opens cannot race the download.
func (o *CachedFileOps) OpenDescriptor(n node.Node, snap node.Snapshot) (node.Descriptor, error) {
	fh, err := o.localFile(n, snap)
	if err != nil {
		return nil, err
	}
	return &cachedFileDescriptor{
		FileDescriptorBase: node.NewFileDescriptorBase(snap),
		file:               fh,
	}, nil
}

func (o *CachedFileOps) localFile(n node.Node, snap node.Snapshot) (*os.File, error) {
	tempPath := filepath.Join(o.TempDir, n.Name())
	if _, err := os.Stat(tempPath); err == nil {
		fh, err := os.OpenFile(tempPath, os.O_RDWR, 0)
		if err != nil {
			log.Errorf("[localfs] Failed to open cached copy of %s: %v", n.Path(), err)
			return nil, common.ErrIO
		}
		return fh, nil
	}
	if o.Load == nil {
		return nil, common.ErrNotSupported
	}
	if err := o.Load(n, tempPath); err != nil {
		log.Errorf("[localfs] Failed to load %s to %s: %v", n.Path(), tempPath, err)
		return nil, common.ErrIO
	}
	info, err := os.Stat(tempPath)
	if err != nil {
		log.Errorf("[localfs] Loader left no file for %s at %s: %v", n.Path(), tempPath, err)
		return nil, common.ErrIO
	}
	if err := snap.Attributes.SetSize(info.Size()); err != nil {
		return nil, err
	}
	fh, err := os.OpenFile(tempPath, os.O_RDWR, 0)
	if err != nil {
		log.Errorf("[localfs] Failed to open loaded copy of %s: %v", n.Path(), err)
		return nil, common.ErrIO
	}
	return fh, nil
}

// NewCachedFile creates a cached-copy file node under parent and attaches
// it.
func NewCachedFile(parent *node.Directory, name string, attrs attr.NodeAttributes, tempDir string, load ContentLoader) (*node.File, error) {
	f := node.NewFile(parent, name, attrs, parent.FSAttributes(), attr.NewMutableExtra(nil),
		&CachedFileOps{TempDir: tempDir, Load: load})
	if err := parent.AddChild(f); err != nil {
		return nil, err
	}
	return f, nil
}

type cachedFileDescriptor struct {
	node.FileDescriptorBase
	mu   sync.Mutex
	file *os.File
}

func (d *cachedFileDescriptor) Read(size int, offset int64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, size)
	n, err := d.file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		log.Errorf("[localfs] Failed to read %s: %v", d.file.Name(), err)
		return nil, common.ErrIO
	}
	return buf[:n], nil
}

func (d *cachedFileDescriptor) Write(data []byte, offset int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.file.WriteAt(data, offset); err != nil {
		log.Errorf("[localfs] Failed to write %s: %v", d.file.Name(), err)
		return 0, common.ErrIO
	}
	a := d.Attributes()
	return len(data), a.SetSize(max(a.Size(), offset+int64(len(data))))
}

func (d *cachedFileDescriptor) Truncate(length int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.file.Truncate(length); err != nil {
		log.Errorf("[localfs] Failed to truncate %s: %v", d.file.Name(), err)
		return common.ErrIO
	}
	return d.Attributes().SetSize(length)
}

func (d *cachedFileDescriptor) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flush()
}

func (d *cachedFileDescriptor) Sync(bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flush()
}

func (d *cachedFileDescriptor) flush() error {
	if err := d.file.Sync(); err != nil {
		log.Errorf("[localfs] Failed to flush %s: %v", d.file.Name(), err)
		return common.ErrIO
	}
	return nil
}

// Release closes the local handle; the cached copy stays for the next open.
func (d *cachedFileDescriptor) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}
