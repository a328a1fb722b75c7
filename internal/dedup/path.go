package dedup

import "io/fs"

// Path is an absolute location plus the stat info taken when a
// FilesystemManager resolved or walked it. Size and Class never touch the
// disk again.
type Path struct {
	abs   string
	isDir bool
	info  fs.FileInfo
}

func NewPath(absPath string, isDir bool, info fs.FileInfo) *Path {
	return &Path{abs: absPath, isDir: isDir, info: info}
}

func (p *Path) String() string { return p.abs }
func (p *Path) IsDir() bool    { return p.isDir }

// Info is the cached stat result, nil for paths built without one.
func (p *Path) Info() fs.FileInfo { return p.info }

// Size is the cached size in bytes. Directories and paths without stat
// info report 0.
func (p *Path) Size() uint64 {
	if p.isDir || p.info == nil || p.info.Size() < 0 {
		return 0
	}
	return uint64(p.info.Size())
}

// Class is the media class implied by the file extension.
func (p *Path) Class() MediaClass {
	if p.isDir {
		return ClassOther
	}
	return Classify(p.abs)
}
