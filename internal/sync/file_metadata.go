package sync

import (
	"time"
)

// FileMetadata is a point-in-time snapshot of one path on one side of the
// sync. Local snapshots carry a content hash; remote snapshots do not, since
// hashing over the wire would mean transferring the file anyway.
type FileMetadata struct {
	Path    string
	Size    int64
	Hash    string
	ModTime time.Time
	IsDir   bool
}

// mtimeTolerance absorbs filesystem timestamp granularity differences
// between the two sides (FAT stores 2s, SFTP carries whole seconds).
const mtimeTolerance = time.Second

func sameTime(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= mtimeTolerance
}
