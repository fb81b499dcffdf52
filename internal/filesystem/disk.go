// Package filesystem abstracts the disk operations the scanner and importer
// perform, so tests can run against an in-memory provider.
package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// FileInfo is the subset of file metadata the pipeline cares about.
type FileInfo struct {
	Path     string
	Size     int64
	Modified time.Time
}

// DiskProvider performs blocking file-system operations.
type DiskProvider interface {
	FolderExists(path string) bool
	FileExists(path string) bool
	// GetFiles enumerates regular files under root, recursively.
	GetFiles(root string) ([]FileInfo, error)
	GetDirectories(root string) ([]string, error)
	GetFileInfo(path string) (FileInfo, error)
	MoveFile(src, dst string) error
	CopyFile(src, dst string) error
	DeleteFile(path string) error
	DeleteFolder(path string) error
	EnsureFolder(path string) error
	// IsFolderEmpty reports whether the folder contains no entries.
	IsFolderEmpty(path string) (bool, error)
}

// Disk is the os-backed DiskProvider.
type Disk struct{}

// NewDisk returns the real disk provider.
func NewDisk() *Disk {
	return &Disk{}
}

func (d *Disk) FolderExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (d *Disk) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (d *Disk) GetFiles(root string) ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Path: path, Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate %q: %w", root, err)
	}
	return files, nil
}

func (d *Disk) GetDirectories(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", root, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}

func (d *Disk) GetFileInfo(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %q: %w", path, err)
	}
	return FileInfo{Path: path, Size: info.Size(), Modified: info.ModTime()}, nil
}

func (d *Disk) MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return fmt.Errorf("move %q to %q: %w", src, dst, err)
	}
	// Rename across filesystems falls back to copy+delete.
	if err := d.CopyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source %q after copy: %w", src, err)
	}
	return nil
}

func (d *Disk) CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %q: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %q to %q: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %q: %w", dst, err)
	}
	return nil
}

func (d *Disk) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	return nil
}

func (d *Disk) DeleteFolder(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete folder %q: %w", path, err)
	}
	return nil
}

func (d *Disk) EnsureFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create folder %q: %w", path, err)
	}
	return nil
}

func (d *Disk) IsFolderEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, fmt.Errorf("read dir %q: %w", path, err)
	}
	return len(entries) == 0, nil
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
