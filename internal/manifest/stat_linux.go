//go:build linux

package manifest

import (
	"io/fs"
	"syscall"
	"time"
)

// createdAt returns the inode change time, the closest Linux offers to a
// creation timestamp.
func createdAt(info fs.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	return time.Unix(int64(stat.Ctim.Sec), int64(stat.Ctim.Nsec))
}
