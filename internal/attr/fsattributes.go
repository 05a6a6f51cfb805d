package attr

// FSAttributes holds a node's filesystem attributes. See statvfs(3).
// There are no gated setters; instances are built once and copied.
type FSAttributes struct {
	BlockSize       int64 // f_bsize: optimal transfer block size
	FragmentSize    int64 // f_frsize: fragment size
	Blocks          int64 // f_blocks: total data blocks
	BlocksFree      int64 // f_bfree: free blocks
	BlocksAvailable int64 // f_bavail: free blocks for unprivileged users
	Files           int64 // f_files: total inodes
	FilesFree       int64 // f_ffree: free inodes
	FilesAvailable  int64 // f_favail: free inodes for unprivileged users
	FilesystemID    int64 // f_fsid
	Flags           int64 // f_flags: mount flags
	NameMax         int64 // f_namemax: maximum file name length
}

// All returns every filesystem attribute keyed by its standard f_* name.
func (a *FSAttributes) All() map[string]int64 {
	return map[string]int64{
		"f_bsize":   a.BlockSize,
		"f_frsize":  a.FragmentSize,
		"f_blocks":  a.Blocks,
		"f_bfree":   a.BlocksFree,
		"f_bavail":  a.BlocksAvailable,
		"f_files":   a.Files,
		"f_ffree":   a.FilesFree,
		"f_favail":  a.FilesAvailable,
		"f_fsid":    a.FilesystemID,
		"f_flags":   a.Flags,
		"f_namemax": a.NameMax,
	}
}

// Copy creates an independent instance with the same values.
func (a *FSAttributes) Copy() *FSAttributes {
	copied := *a
	return &copied
}
