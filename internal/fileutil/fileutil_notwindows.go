//go:build !windows

package fileutil

import "errors"

// moveToWindowsTrash only has a real implementation on Windows; MoveToTrash
// dispatches on GOOS and never reaches this stub elsewhere.
func moveToWindowsTrash(path string) error {
	return errors.New("Windows Recycle Bin is not available on this platform")
}
