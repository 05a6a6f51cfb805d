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

package attr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redballoonsecurity/shortfuse/internal/common"
)

func TestModeProjections(t *testing.T) {
	t.Parallel()

	a := New(map[string]int64{"st_mode": ModeFile | 0644})
	assert.Equal(t, ModeFile|0644, a.Mode())
	assert.Equal(t, ModeFile, a.NodeType())
	assert.Equal(t, int64(0644), a.Permissions())

	t.Run("setting the type preserves permissions", func(t *testing.T) {
		t.Parallel()
		m := NewMutable(map[string]int64{"st_mode": ModeFile | 0644})
		require.NoError(t, m.SetNodeType(ModeSymlink))
		assert.Equal(t, ModeSymlink, m.NodeType())
		assert.Equal(t, int64(0644), m.Permissions())
	})

	t.Run("setting permissions preserves the type", func(t *testing.T) {
		t.Parallel()
		m := NewMutable(map[string]int64{"st_mode": ModeDir | 0755})
		require.NoError(t, m.SetPermissions(0700))
		assert.Equal(t, ModeDir, m.NodeType())
		assert.Equal(t, int64(0700), m.Permissions())
	})
}

func TestFieldNameNormalization(t *testing.T) {
	t.Parallel()

	// Bare and st_-prefixed names address the same field.
	a := New(map[string]int64{"mode": ModeFile | 0600, "st_size": 7})
	assert.Equal(t, ModeFile|0600, a.Mode())
	assert.Equal(t, int64(7), a.Size())

	all := a.All()
	assert.Equal(t, ModeFile|0600, all["st_mode"])
	assert.Equal(t, int64(7), all["st_size"])
}

func TestCopyIsIndependent(t *testing.T) {
	t.Parallel()

	orig := NewMutable(map[string]int64{"st_mode": ModeFile | 0644, "st_size": 5})
	cp := orig.Copy(map[string]int64{"st_size": 9})

	assert.Equal(t, int64(9), cp.Size())
	assert.Equal(t, int64(5), orig.Size())

	require.NoError(t, cp.SetSize(100))
	assert.Equal(t, int64(5), orig.Size())

	require.NoError(t, orig.SetUID(42))
	assert.Equal(t, int64(0), cp.UID())
}

func TestBaseSettersAreGated(t *testing.T) {
	t.Parallel()

	a := New(map[string]int64{"st_mode": ModeFile | 0444})
	assert.ErrorIs(t, a.SetMode(0), common.ErrNotSupported)
	assert.ErrorIs(t, a.SetSize(1), common.ErrNotSupported)
	assert.ErrorIs(t, a.SetNlink(1), common.ErrNotSupported)
	assert.ErrorIs(t, a.SetUID(1), common.ErrNotSupported)
	assert.ErrorIs(t, a.SetGID(1), common.ErrNotSupported)
	assert.ErrorIs(t, a.SetIno(1), common.ErrNotSupported)
	assert.ErrorIs(t, a.SetAccessTime(1), common.ErrNotSupported)
	assert.ErrorIs(t, a.SetModifiedTime(1), common.ErrNotSupported)
	assert.ErrorIs(t, a.SetChangeTime(1), common.ErrNotSupported)

	// Projection setters go through SetMode and are gated with it.
	assert.ErrorIs(t, a.SetPermissions(0600), common.ErrNotSupported)
	assert.ErrorIs(t, a.SetNodeType(ModeDir), common.ErrNotSupported)
}

func TestMutableSetters(t *testing.T) {
	t.Parallel()

	m := NewMutable(nil)
	require.NoError(t, m.SetMode(ModeFile|0640))
	require.NoError(t, m.SetIno(3))
	require.NoError(t, m.SetNlink(2))
	require.NoError(t, m.SetUID(10))
	require.NoError(t, m.SetGID(20))
	require.NoError(t, m.SetSize(1024))
	require.NoError(t, m.SetAccessTime(1))
	require.NoError(t, m.SetModifiedTime(2))
	require.NoError(t, m.SetChangeTime(3))

	assert.Equal(t, map[string]int64{
		"st_mode": ModeFile | 0640, "st_ino": 3, "st_nlink": 2,
		"st_uid": 10, "st_gid": 20, "st_size": 1024,
		"st_atime": 1, "st_mtime": 2, "st_ctime": 3,
	}, m.All())
}

func TestExtraAttributes(t *testing.T) {
	t.Parallel()

	t.Run("missing key reads empty", func(t *testing.T) {
		t.Parallel()
		e := NewMutableExtra(nil)
		assert.Equal(t, "", e.Get("absent"))
	})

	t.Run("names are sorted", func(t *testing.T) {
		t.Parallel()
		e := NewMutableExtra(map[string]string{"b": "2", "a": "1", "c": "3"})
		assert.Equal(t, []string{"a", "b", "c"}, e.Names())
	})

	t.Run("remove missing fails not found", func(t *testing.T) {
		t.Parallel()
		e := NewMutableExtra(map[string]string{"k": "v"})
		require.NoError(t, e.Remove("k"))
		assert.ErrorIs(t, e.Remove("k"), common.ErrNotFound)
	})

	t.Run("base variant rejects mutation", func(t *testing.T) {
		t.Parallel()
		e := NewExtra(map[string]string{"k": "v"})
		assert.ErrorIs(t, e.Set("k", "w"), common.ErrNotSupported)
		assert.ErrorIs(t, e.Remove("k"), common.ErrNotSupported)
		assert.Equal(t, "v", e.Get("k"))
	})

	t.Run("copies are independent", func(t *testing.T) {
		t.Parallel()
		e := NewMutableExtra(map[string]string{"k": "v"})
		cp := e.Copy()
		require.NoError(t, cp.Set("k", "w"))
		assert.Equal(t, "v", e.Get("k"))
	})
}

func TestFSAttributes(t *testing.T) {
	t.Parallel()

	fsa := &FSAttributes{
		BlockSize: 512, FragmentSize: 512, Blocks: 100, BlocksFree: 50,
		BlocksAvailable: 40, Files: 10, FilesFree: 5, FilesAvailable: 4,
		FilesystemID: 7, Flags: 1, NameMax: 255,
	}

	all := fsa.All()
	assert.Equal(t, int64(512), all["f_bsize"])
	assert.Equal(t, int64(512), all["f_frsize"])
	assert.Equal(t, int64(100), all["f_blocks"])
	assert.Equal(t, int64(50), all["f_bfree"])
	assert.Equal(t, int64(40), all["f_bavail"])
	assert.Equal(t, int64(10), all["f_files"])
	assert.Equal(t, int64(5), all["f_ffree"])
	assert.Equal(t, int64(4), all["f_favail"])
	assert.Equal(t, int64(7), all["f_fsid"])
	assert.Equal(t, int64(1), all["f_flag"])
	assert.Equal(t, int64(255), all["f_namemax"])

	cp := fsa.Copy()
	cp.BlocksFree = 0
	assert.Equal(t, int64(50), fsa.BlocksFree)
}
