//go:build !linux

package manifest

import (
	"io/fs"
	"time"
)

func createdAt(info fs.FileInfo) time.Time {
	return info.ModTime()
}
