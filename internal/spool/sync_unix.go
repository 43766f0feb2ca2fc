//go:build unix

package spool

import "os"

// syncDir persists a completed rename by syncing the directory entry.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
