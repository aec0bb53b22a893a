// Package snapshot creates, verifies, restores, and prunes point-in-time
// archives of instance directories. Archives are gzip-compressed tar files
// named backup-<instance>-<YYYY-MM-DD-HHmmss>.tar.gz; the snapshot with the
// lexicographically greatest timestamp suffix is the instance's latest.
// Creation is atomic: the archive is written under a temporary name in the
// backup directory and renamed into place, so a concurrent reader never
// observes a partial archive.
package snapshot
