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
	log "github.com/sirupsen/logrus"

	"github.com/redballoonsecurity/shortfuse/internal/attr"
	"github.com/redballoonsecurity/shortfuse/internal/common"
)

// Link is a symbolic reference to another node in the same tree.
type Link struct {
	base
	target Node
}

// NewLink creates a link node under parent and bumps the target's link
// count.
func NewLink(parent *Directory, name string, target Node, attrs attr.NodeAttributes, fsAttrs *attr.FSAttributes, xattrs attr.ExtraAttributes, ops Ops) (*Link, error) {
	l := &Link{
		base:   newBase(parent, name, attrs, fsAttrs, xattrs, ops),
		target: target,
	}
	l.self = l
	ta := target.Attributes()
	if err := ta.SetNlink(ta.Nlink() + 1); err != nil {
		return nil, err
	}
	return l, nil
}

// Target returns the linked node without checking it is still attached.
func (l *Link) Target() Node { return l.target }

// TargetPath returns the target's path relative to this link's parent. The
// target is re-resolved from the root first; a target that was detached or
// replaced yields ErrNotFound.
func (l *Link) TargetPath() (string, error) {
	root, ok := l.Root().(*Directory)
	if !ok {
		log.Errorf("[node] Link %s is not rooted in a directory", l.path)
		return "", common.ErrNotFound
	}
	resolved, err := root.Child(l.target.Path())
	if err != nil || resolved != l.target {
		return "", common.ErrNotFound
	}
	return common.RelPath(l.parent.Path(), l.target.Path()), nil
}
