package snapshot

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/oshokin/fleet-updater/internal/domain/update"
	"github.com/oshokin/fleet-updater/internal/logger"
)

// ErrNoSnapshot is returned by Latest when no archive exists for an instance.
var ErrNoSnapshot = errors.New("no snapshot found for instance")

var (
	errSourceMissing     = errors.New("source directory does not exist")
	errUnsafeArchivePath = errors.New("archive entry escapes the target directory")
)

const (
	// archivePrefix and archiveSuffix frame the snapshot filename convention.
	archivePrefix = "backup-"
	archiveSuffix = ".tar.gz"

	// timestampLayout is the second-resolution timestamp embedded in
	// archive filenames. Lexicographic order of the suffix equals
	// chronological order.
	timestampLayout = "2006-01-02-150405"

	// partialSuffix marks an archive still being written.
	partialSuffix = ".partial"

	// backupDirMode is applied when creating the backup directory.
	backupDirMode os.FileMode = 0o750

	// restoreDirMode is applied to directories created during restore.
	restoreDirMode os.FileMode = 0o755

	// executableFileMode is re-applied to the server binary after restore.
	executableFileMode os.FileMode = 0o755

	// hoursPerDay converts retention days to a duration.
	hoursPerDay = 24
)

// Store manages snapshot archives inside one backup directory.
type Store struct {
	backupDir    string
	serverBinary string
}

// NewStore creates a store writing to backupDir. serverBinary is the
// executable whose run permission bit is re-applied after a restore.
func NewStore(backupDir, serverBinary string) *Store {
	return &Store{
		backupDir:    backupDir,
		serverBinary: serverBinary,
	}
}

// Create archives the entire directory tree at sourceDir. The archive is
// written to a temporary name first and renamed into place; the temporary
// file is removed on every failure path.
func (s *Store) Create(ctx context.Context, instanceName, sourceDir string) (update.Snapshot, error) {
	info, err := os.Stat(sourceDir)
	if err != nil || !info.IsDir() {
		return update.Snapshot{}, fmt.Errorf("%s: %w", sourceDir, errSourceMissing)
	}

	if err := os.MkdirAll(s.backupDir, backupDirMode); err != nil {
		return update.Snapshot{}, fmt.Errorf("create backup directory: %w", err)
	}

	createdAt := time.Now()
	archivePath := filepath.Join(s.backupDir, archiveName(instanceName, createdAt))
	partialPath := archivePath + partialSuffix

	if err := writeArchive(sourceDir, partialPath); err != nil {
		_ = os.Remove(partialPath)

		return update.Snapshot{}, fmt.Errorf("archive %s: %w", instanceName, err)
	}

	if err := os.Rename(partialPath, archivePath); err != nil {
		_ = os.Remove(partialPath)

		return update.Snapshot{}, fmt.Errorf("finalise archive: %w", err)
	}

	logger.InfoKV(ctx, "Snapshot created",
		"instance", instanceName, "archive", archivePath)

	return update.Snapshot{
		InstanceName: instanceName,
		CreatedAt:    createdAt.Truncate(time.Second),
		ArchivePath:  archivePath,
	}, nil
}

// Verify scans the whole archive without extracting it, reading every
// entry to the end so that gzip and tar corruption surface. It must be
// called before any restore.
func (s *Store) Verify(_ context.Context, snap update.Snapshot) error {
	file, err := os.Open(snap.ArchivePath)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decompressor, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("snapshot is not a valid archive: %w", err)
	}

	defer func() {
		_ = decompressor.Close()
	}()

	reader := tar.NewReader(decompressor)

	for {
		_, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("snapshot is corrupt: %w", err)
		}

		if _, err := io.Copy(io.Discard, reader); err != nil {
			return fmt.Errorf("snapshot is corrupt: %w", err)
		}
	}
}

// Restore extracts the snapshot into targetDir. The existing targetDir is
// first moved aside to a timestamped sibling path and only removed once the
// restore has succeeded; on extraction failure the aside copy is moved back,
// so the pre-restore state is never lost.
func (s *Store) Restore(ctx context.Context, snap update.Snapshot, targetDir string) error {
	asidePath := ""

	if _, err := os.Stat(targetDir); err == nil {
		asidePath = targetDir + "-pre-restore-" + time.Now().Format(timestampLayout)
		if err := os.Rename(targetDir, asidePath); err != nil {
			return fmt.Errorf("move target aside: %w", err)
		}
	}

	if err := extractArchive(snap.ArchivePath, targetDir); err != nil {
		_ = os.RemoveAll(targetDir)

		if asidePath != "" {
			if renameErr := os.Rename(asidePath, targetDir); renameErr != nil {
				return fmt.Errorf("restore failed and the original could not be moved back (left at %s): %w",
					asidePath, err)
			}
		}

		return fmt.Errorf("restore %s: %w", snap.InstanceName, err)
	}

	binaryPath := filepath.Join(targetDir, s.serverBinary)
	if _, err := os.Stat(binaryPath); err == nil {
		if err := os.Chmod(binaryPath, executableFileMode); err != nil {
			return fmt.Errorf("mark server binary executable: %w", err)
		}
	}

	if asidePath != "" {
		_ = os.RemoveAll(asidePath)
	}

	logger.InfoKV(ctx, "Snapshot restored",
		"instance", snap.InstanceName, "target", targetDir)

	return nil
}

// Latest returns the snapshot for instanceName with the greatest creation
// time, or ErrNoSnapshot. The glob alone is not enough to select candidates:
// an instance named "survival" must not pick up archives of a sibling named
// "survival-hard", so every match is parsed and filtered on the exact
// instance name before comparison.
func (s *Store) Latest(instanceName string) (update.Snapshot, error) {
	pattern := filepath.Join(s.backupDir, archivePrefix+instanceName+"-*"+archiveSuffix)

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return update.Snapshot{}, fmt.Errorf("list snapshots: %w", err)
	}

	var newest update.Snapshot

	for _, archivePath := range matches {
		name, createdAt, err := parseArchiveName(archivePath)
		if err != nil || name != instanceName {
			continue
		}

		if newest.ArchivePath == "" || createdAt.After(newest.CreatedAt) {
			newest = update.Snapshot{
				InstanceName: instanceName,
				CreatedAt:    createdAt,
				ArchivePath:  archivePath,
			}
		}
	}

	if newest.ArchivePath == "" {
		return update.Snapshot{}, fmt.Errorf("%s: %w", instanceName, ErrNoSnapshot)
	}

	return newest, nil
}

// List returns every snapshot in the backup directory, newest first.
func (s *Store) List() ([]update.Snapshot, error) {
	matches, err := filepath.Glob(filepath.Join(s.backupDir, archivePrefix+"*"+archiveSuffix))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	snapshots := make([]update.Snapshot, 0, len(matches))

	for _, archivePath := range matches {
		name, createdAt, err := parseArchiveName(archivePath)
		if err != nil {
			continue
		}

		snapshots = append(snapshots, update.Snapshot{
			InstanceName: name,
			CreatedAt:    createdAt,
			ArchivePath:  archivePath,
		})
	}

	return snapshots, nil
}

// PruneOlderThan removes archives whose modification time exceeds the
// retention window and returns how many were removed. Zero matches is not
// an error.
func (s *Store) PruneOlderThan(ctx context.Context, retentionDays int) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.backupDir, archivePrefix+"*"+archiveSuffix))
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	cutoff := time.Now().Add(-time.Duration(retentionDays) * hoursPerDay * time.Hour)
	removed := 0

	for _, archivePath := range matches {
		info, err := os.Stat(archivePath)
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(archivePath); err != nil {
			return removed, fmt.Errorf("remove snapshot %s: %w", archivePath, err)
		}

		logger.InfoKV(ctx, "Snapshot pruned", "archive", archivePath)
		removed++
	}

	return removed, nil
}

// archiveName builds the filename for an instance snapshot taken at createdAt.
func archiveName(instanceName string, createdAt time.Time) string {
	return archivePrefix + instanceName + "-" + createdAt.Format(timestampLayout) + archiveSuffix
}

// parseArchiveName splits an archive filename into instance name and
// creation time. The instance name may itself contain dashes, so the
// timestamp is taken from the fixed-width tail.
func parseArchiveName(archivePath string) (string, time.Time, error) {
	base := filepath.Base(archivePath)
	trimmed := strings.TrimSuffix(strings.TrimPrefix(base, archivePrefix), archiveSuffix)

	if len(trimmed) <= len(timestampLayout)+1 {
		return "", time.Time{}, fmt.Errorf("parse snapshot name %q: %w", base, ErrNoSnapshot)
	}

	split := len(trimmed) - len(timestampLayout)
	name := trimmed[:split-1]

	createdAt, err := time.ParseInLocation(timestampLayout, trimmed[split:], time.Local)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse snapshot name %q: %w", base, err)
	}

	return name, createdAt, nil
}

// writeArchive streams the directory tree at sourceDir into a tar.gz file
// at destination. Entry names are relative to sourceDir.
func writeArchive(sourceDir, destination string) error {
	file, err := os.OpenFile(filepath.Clean(destination), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}

	compressor := gzip.NewWriter(file)
	writer := tar.NewWriter(compressor)

	walkErr := filepath.WalkDir(sourceDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relative, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		if relative == "." {
			return nil
		}

		return writeArchiveEntry(writer, path, filepath.ToSlash(relative), entry)
	})

	if walkErr != nil {
		_ = writer.Close()
		_ = compressor.Close()
		_ = file.Close()

		return walkErr
	}

	if err := writer.Close(); err != nil {
		_ = compressor.Close()
		_ = file.Close()

		return err
	}

	if err := compressor.Close(); err != nil {
		_ = file.Close()

		return err
	}

	return file.Close()
}

// writeArchiveEntry appends one file or directory to the tar stream.
func writeArchiveEntry(writer *tar.Writer, path, relative string, entry fs.DirEntry) error {
	info, err := entry.Info()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}

	header.Name = relative
	if entry.IsDir() {
		header.Name += "/"
	}

	if err := writer.WriteHeader(header); err != nil {
		return err
	}

	if entry.IsDir() {
		return nil
	}

	source, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		_ = source.Close()
	}()

	if _, err := io.Copy(writer, source); err != nil {
		return fmt.Errorf("archive %s: %w", relative, err)
	}

	return nil
}

// extractArchive unpacks a tar.gz archive into targetDir, creating it first.
func extractArchive(archivePath, targetDir string) error {
	file, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	decompressor, err := gzip.NewReader(file)
	if err != nil {
		return err
	}

	defer func() {
		_ = decompressor.Close()
	}()

	if err := os.MkdirAll(targetDir, restoreDirMode); err != nil {
		return err
	}

	reader := tar.NewReader(decompressor)

	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		if err := extractArchiveEntry(reader, header, targetDir); err != nil {
			return err
		}
	}
}

// extractArchiveEntry writes one tar entry under targetDir, refusing
// entries whose cleaned path would escape it.
func extractArchiveEntry(reader *tar.Reader, header *tar.Header, targetDir string) error {
	cleaned := filepath.Clean(header.Name)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return fmt.Errorf("%q: %w", header.Name, errUnsafeArchivePath)
	}

	target := filepath.Join(targetDir, cleaned)

	switch header.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, restoreDirMode)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), restoreDirMode); err != nil {
			return err
		}

		file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode).Perm())
		if err != nil {
			return err
		}

		if _, err := io.Copy(file, reader); err != nil {
			_ = file.Close()

			return fmt.Errorf("extract %s: %w", header.Name, err)
		}

		return file.Close()
	default:
		// Symlinks and specials do not occur in server installations;
		// skip anything unexpected rather than fail the restore.
		return nil
	}
}
