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

import "errors"

// Core error kinds. Every layer raises the precise kind at the point of
// detection and propagates it unmodified; only the host-runtime boundary
// translates to its native error-code mechanism.
var (
	ErrNotFound     = errors.New("not found")
	ErrExists       = errors.New("already exists")
	ErrNotDir       = errors.New("not a directory")
	ErrIsDir        = errors.New("is a directory")
	ErrNotPermitted = errors.New("operation not permitted")
	ErrNotSupported = errors.New("operation not supported")
	ErrBadHandle    = errors.New("bad file handle")
	ErrInvalidSeek  = errors.New("invalid seek")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrIO           = errors.New("I/O error")
)
