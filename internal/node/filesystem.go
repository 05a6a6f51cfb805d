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

// FileSystem is the lifecycle surface a root directory carries. Init runs
// once before the tree is served and Destroy once after the last request.
type FileSystem interface {
	Init() error
	Destroy() error
}

// Root is what an adapter mounts: a filesystem lifecycle over a resolvable
// directory tree.
type Root interface {
	FileSystem

	Child(path string) (Node, error)
	Open() (Handle, error)
	Close(h Handle) error
	DirectoryDescriptor(h Handle) (DirectoryDescriptor, error)
}
