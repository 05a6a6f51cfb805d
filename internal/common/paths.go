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

package common

import (
	"path"
	"strings"
)

// Separator is the path separator used inside the node tree.
const Separator = "/"

// SplitPath splits a tree path into its components. Empty segments created by
// repeated or leading separators are dropped, so "//a///b" walks the same
// nodes as "a/b".
func SplitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, Separator) {
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

// ParentPath returns the parent directory portion of a tree path.
func ParentPath(p string) string {
	dir, _ := path.Split(p)
	return strings.TrimSuffix(dir, Separator)
}

// BaseName returns the last component of a tree path.
func BaseName(p string) string {
	_, name := path.Split(p)
	return name
}

// RelPath returns target expressed relative to base. Both paths must be
// absolute tree paths. Used for link target resolution.
func RelPath(base, target string) string {
	baseParts := SplitPath(base)
	targetParts := SplitPath(target)

	common := 0
	for common < len(baseParts) && common < len(targetParts) && baseParts[common] == targetParts[common] {
		common++
	}

	var parts []string
	for i := common; i < len(baseParts); i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, targetParts[common:]...)
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, Separator)
}

// JoinPath joins tree path components, cleaning the result.
func JoinPath(parts ...string) string {
	return path.Join(parts...)
}
