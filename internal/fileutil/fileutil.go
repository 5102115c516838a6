// Package fileutil provides collision-safe copy and move helpers for the
// materialization and clean up steps. Nothing here is called by the matching
// pipeline itself; the core only decides which paths to keep.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// UniqueName finds a non-conflicting filename by appending _1, _2, ... before
// the extension. isAvailable reports whether a candidate name can be used.
func UniqueName(filename string, isAvailable func(string) bool) (string, error) {
	if isAvailable(filename) {
		return filename, nil
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for counter := 1; counter <= 9999; counter++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, counter, ext)
		if isAvailable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("too many filename conflicts for %s", filename)
}

// NotOnDisk is an isAvailable predicate for UniqueName that checks the
// destination directory on the filesystem.
func NotOnDisk(dir string) func(string) bool {
	return func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, name))
		return os.IsNotExist(err)
	}
}

// CopyFile copies src to dest, preserving the source file mode. The
// destination is removed again if the copy fails partway.
func CopyFile(src, dest string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	destFile, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode())
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, srcFile); err != nil {
		os.Remove(dest)
		return err
	}

	return nil
}

// MoveFile moves src into destDir, renaming to a unique name on collision.
func MoveFile(src, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	destName, err := UniqueName(filepath.Base(src), NotOnDisk(destDir))
	if err != nil {
		return err
	}

	return moveAcrossFS(src, filepath.Join(destDir, destName))
}

// moveAcrossFS renames src to dest, falling back to copy+delete when the two
// live on different filesystems.
func moveAcrossFS(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		if err := CopyFile(src, dest); err != nil {
			return err
		}
		return os.Remove(src)
	}

	return err
}

// MoveToTrash moves a file to the platform trash:
// freedesktop.org trash on Linux, ~/.Trash on macOS, Recycle Bin on Windows.
func MoveToTrash(src string) error {
	switch runtime.GOOS {
	case "windows":
		return moveToWindowsTrash(src)
	case "linux":
		return moveToLinuxTrash(src)
	default:
		dir, err := trashDir()
		if err != nil {
			return err
		}
		return MoveFile(src, dir)
	}
}

func trashDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	var dir string
	switch runtime.GOOS {
	case "darwin":
		dir = filepath.Join(homeDir, ".Trash")
	case "linux":
		dir = filepath.Join(homeDir, ".local", "share", "Trash", "files")
	default:
		dir = filepath.Join(homeDir, "imagededup_trash")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create trash directory: %w", err)
	}
	return dir, nil
}

// moveToLinuxTrash implements the freedesktop.org trash layout: the file goes
// to Trash/files and a matching .trashinfo record to Trash/info.
func moveToLinuxTrash(src string) error {
	filesDir, err := trashDir()
	if err != nil {
		return err
	}

	homeDir, _ := os.UserHomeDir()
	infoDir := filepath.Join(homeDir, ".local", "share", "Trash", "info")
	if err := os.MkdirAll(infoDir, 0755); err != nil {
		return err
	}

	absPath, err := filepath.Abs(src)
	if err != nil {
		return err
	}

	// The name must be free in both the files and the info directory.
	destName, err := UniqueName(filepath.Base(src), func(name string) bool {
		_, err1 := os.Stat(filepath.Join(filesDir, name))
		_, err2 := os.Stat(filepath.Join(infoDir, name+".trashinfo"))
		return os.IsNotExist(err1) && os.IsNotExist(err2)
	})
	if err != nil {
		return err
	}

	infoPath := filepath.Join(infoDir, destName+".trashinfo")
	info := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		absPath, time.Now().Format("2006-01-02T15:04:05"))
	if err := os.WriteFile(infoPath, []byte(info), 0644); err != nil {
		return err
	}

	if err := moveAcrossFS(src, filepath.Join(filesDir, destName)); err != nil {
		os.Remove(infoPath)
		return err
	}

	return nil
}
