package update

import "time"

// Snapshot records one point-in-time archive of an instance directory.
// Snapshots are immutable once written; the archive filename embeds the
// instance name and a second-resolution timestamp, and the snapshot with
// the greatest timestamp suffix is the instance's latest.
type Snapshot struct {
	// InstanceName is the instance the archive was taken from.
	InstanceName string
	// CreatedAt is the creation time with second resolution.
	CreatedAt time.Time
	// ArchivePath is the absolute path of the archive file.
	ArchivePath string
}
