package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/driftarr/driftarr/internal/filesystem"
)

// FakeDisk is an in-memory DiskProvider. Files are stored by absolute path;
// folders exist when created explicitly or implied by a file under them.
type FakeDisk struct {
	files   map[string]filesystem.FileInfo
	folders map[string]bool

	// FailMove, when set, is returned from MoveFile and CopyFile.
	FailMove error
}

// NewFakeDisk creates an empty fake disk.
func NewFakeDisk() *FakeDisk {
	return &FakeDisk{
		files:   make(map[string]filesystem.FileInfo),
		folders: make(map[string]bool),
	}
}

// AddFile places a file with the given size, creating parent folders.
func (d *FakeDisk) AddFile(path string, size int64, modified time.Time) {
	path = filepath.Clean(path)
	d.files[path] = filesystem.FileInfo{Path: path, Size: size, Modified: modified}
	for dir := filepath.Dir(path); dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		d.folders[dir] = true
	}
}

// AddFolder creates an empty folder.
func (d *FakeDisk) AddFolder(path string) {
	d.folders[filepath.Clean(path)] = true
}

func (d *FakeDisk) FolderExists(path string) bool {
	return d.folders[filepath.Clean(path)]
}

func (d *FakeDisk) FileExists(path string) bool {
	_, ok := d.files[filepath.Clean(path)]
	return ok
}

func (d *FakeDisk) GetFiles(root string) ([]filesystem.FileInfo, error) {
	root = filepath.Clean(root)
	if !d.folders[root] {
		return nil, fmt.Errorf("enumerate %q: %w", root, os.ErrNotExist)
	}
	var files []filesystem.FileInfo
	for path, info := range d.files {
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			files = append(files, info)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (d *FakeDisk) GetDirectories(root string) ([]string, error) {
	root = filepath.Clean(root)
	var dirs []string
	for folder := range d.folders {
		if filepath.Dir(folder) == root {
			dirs = append(dirs, folder)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (d *FakeDisk) GetFileInfo(path string) (filesystem.FileInfo, error) {
	info, ok := d.files[filepath.Clean(path)]
	if !ok {
		return filesystem.FileInfo{}, fmt.Errorf("stat %q: %w", path, os.ErrNotExist)
	}
	return info, nil
}

func (d *FakeDisk) MoveFile(src, dst string) error {
	if d.FailMove != nil {
		return d.FailMove
	}
	info, ok := d.files[filepath.Clean(src)]
	if !ok {
		return fmt.Errorf("move %q: %w", src, os.ErrNotExist)
	}
	delete(d.files, filepath.Clean(src))
	d.AddFile(dst, info.Size, info.Modified)
	return nil
}

func (d *FakeDisk) CopyFile(src, dst string) error {
	if d.FailMove != nil {
		return d.FailMove
	}
	info, ok := d.files[filepath.Clean(src)]
	if !ok {
		return fmt.Errorf("copy %q: %w", src, os.ErrNotExist)
	}
	d.AddFile(dst, info.Size, info.Modified)
	return nil
}

func (d *FakeDisk) DeleteFile(path string) error {
	delete(d.files, filepath.Clean(path))
	return nil
}

func (d *FakeDisk) DeleteFolder(path string) error {
	path = filepath.Clean(path)
	delete(d.folders, path)
	for p := range d.files {
		if strings.HasPrefix(p, path+string(filepath.Separator)) {
			delete(d.files, p)
		}
	}
	for p := range d.folders {
		if strings.HasPrefix(p, path+string(filepath.Separator)) {
			delete(d.folders, p)
		}
	}
	return nil
}

func (d *FakeDisk) EnsureFolder(path string) error {
	path = filepath.Clean(path)
	for dir := path; dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		d.folders[dir] = true
	}
	return nil
}

func (d *FakeDisk) IsFolderEmpty(path string) (bool, error) {
	path = filepath.Clean(path)
	if !d.folders[path] {
		return false, fmt.Errorf("read dir %q: %w", path, os.ErrNotExist)
	}
	prefix := path + string(filepath.Separator)
	for p := range d.files {
		if strings.HasPrefix(p, prefix) {
			return false, nil
		}
	}
	for p := range d.folders {
		if strings.HasPrefix(p, prefix) {
			return false, nil
		}
	}
	return true, nil
}
