package sync

import (
	"time"

	"github.com/goodCoderXD/cync/internal/transport"
)

// snapshotRemote lists the whole remote tree into FileMetadata keyed by
// relative path. Remote snapshots carry no content hash; size and mtime are
// the comparable fields.
func snapshotRemote(tr transport.Transport, filter *IgnoreList) (map[string]*FileMetadata, error) {
	infos, err := tr.Walk(".")
	if err != nil {
		return nil, err
	}

	state := make(map[string]*FileMetadata, len(infos))
	for _, info := range infos {
		relPath, err := NormPath(info.Path)
		if err != nil || relPath == "" {
			continue
		}
		if !filter.IncludedRemote(relPath, info.IsDir, info.Size) {
			continue
		}
		state[relPath] = &FileMetadata{
			Path:    relPath,
			Size:    info.Size,
			ModTime: info.ModTime,
			IsDir:   info.IsDir,
		}
	}
	return state, nil
}

// diffRemote compares two remote snapshots and emits one event per changed
// path, tagged with origin Remote so they flow through the same debounce and
// queue pipeline as local watch events.
func diffRemote(prev, curr map[string]*FileMetadata, at time.Time) []Event {
	var events []Event

	for path, meta := range curr {
		old, existed := prev[path]
		switch {
		case !existed:
			events = append(events, Event{Path: path, Kind: KindCreate, Origin: OriginRemote, At: at})
		case meta.IsDir != old.IsDir,
			!meta.IsDir && (meta.Size != old.Size || !sameTime(meta.ModTime, old.ModTime)):
			events = append(events, Event{Path: path, Kind: KindUpdate, Origin: OriginRemote, At: at})
		}
	}

	for path := range prev {
		if _, exists := curr[path]; !exists {
			events = append(events, Event{Path: path, Kind: KindDelete, Origin: OriginRemote, At: at})
		}
	}

	return events
}
