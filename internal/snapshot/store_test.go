package snapshot

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/fleet-updater/internal/domain/update"
)

// writeTree materialises files (path → contents) under root, creating
// parent directories as needed.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, contents := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}
}

// readTree collects every regular file under root as path → contents.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()

	files := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}

		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		files[filepath.ToSlash(relative)] = string(contents)

		return nil
	})
	require.NoError(t, err)

	return files
}

// TestStore_CreateVerifyRestore covers the full round trip: the restored
// tree must be byte-identical to the archived one and the server binary
// must come back executable.
func TestStore_CreateVerifyRestore(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	sourceDir := filepath.Join(base, "survival")

	tree := map[string]string{
		"bedrock_server":               "#!binary-v1",
		"server.properties":            "level-name=world\n",
		"allowlist.json":               "[]",
		"worlds/overworld/level.dat":   "world-bytes",
		"worlds/overworld/db/CURRENT":  "MANIFEST-000001",
		"behavior_packs/vanilla/a.txt": "pack",
	}
	writeTree(t, sourceDir, tree)

	store := NewStore(filepath.Join(base, "backups"), "bedrock_server")

	snap, err := store.Create(context.Background(), "survival", sourceDir)
	require.NoError(t, err)
	require.Equal(t, "survival", snap.InstanceName)
	require.FileExists(t, snap.ArchivePath)

	// No half-written archives left behind.
	partials, err := filepath.Glob(filepath.Join(base, "backups", "*"+partialSuffix))
	require.NoError(t, err)
	require.Empty(t, partials)

	require.NoError(t, store.Verify(context.Background(), snap))

	// Wreck the live directory the way a bad update would.
	require.NoError(t, os.RemoveAll(filepath.Join(sourceDir, "worlds")))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "bedrock_server"), []byte("#!binary-v2-broken"), 0o755))

	require.NoError(t, store.Restore(context.Background(), snap, sourceDir))
	require.Equal(t, tree, readTree(t, sourceDir))

	info, err := os.Stat(filepath.Join(sourceDir, "bedrock_server"))
	require.NoError(t, err)
	require.NotZero(t, info.Mode().Perm()&0o100, "server binary must be executable after restore")

	// The aside copy made during restore must not linger.
	asides, err := filepath.Glob(sourceDir + "-pre-restore-*")
	require.NoError(t, err)
	require.Empty(t, asides)
}

// TestStore_CreateRejectsMissingSource refuses to archive a directory that
// does not exist.
func TestStore_CreateRejectsMissingSource(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), "bedrock_server")

	_, err := store.Create(context.Background(), "survival", filepath.Join(t.TempDir(), "absent"))
	require.ErrorIs(t, err, errSourceMissing)
}

// TestStore_VerifyRejectsCorrupt ensures a damaged archive is caught before
// any restore is attempted.
func TestStore_VerifyRejectsCorrupt(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	sourceDir := filepath.Join(base, "survival")
	writeTree(t, sourceDir, map[string]string{"bedrock_server": "#!binary"})

	store := NewStore(filepath.Join(base, "backups"), "bedrock_server")

	snap, err := store.Create(context.Background(), "survival", sourceDir)
	require.NoError(t, err)

	// Truncate the archive to half its size.
	contents, err := os.ReadFile(snap.ArchivePath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(snap.ArchivePath, contents[:len(contents)/2], 0o640))

	require.Error(t, store.Verify(context.Background(), snap))
}

// TestStore_Latest picks the archive with the greatest creation time and
// reports ErrNoSnapshot when nothing matches.
func TestStore_Latest(t *testing.T) {
	t.Parallel()

	backupDir := t.TempDir()
	store := NewStore(backupDir, "bedrock_server")

	_, err := store.Latest("survival")
	require.ErrorIs(t, err, ErrNoSnapshot)

	older := time.Date(2026, 8, 29, 3, 0, 0, 0, time.Local)
	newer := time.Date(2026, 8, 30, 3, 0, 0, 0, time.Local)

	for _, createdAt := range []time.Time{newer, older} {
		path := filepath.Join(backupDir, archiveName("survival", createdAt))
		require.NoError(t, os.WriteFile(path, []byte("archive"), 0o640))
	}

	// A different instance must not shadow the lookup.
	decoy := filepath.Join(backupDir, archiveName("creative", newer.Add(time.Hour)))
	require.NoError(t, os.WriteFile(decoy, []byte("archive"), 0o640))

	snap, err := store.Latest("survival")
	require.NoError(t, err)
	require.True(t, snap.CreatedAt.Equal(newer), "expected %s, got %s", newer, snap.CreatedAt)
	require.Equal(t, filepath.Join(backupDir, archiveName("survival", newer)), snap.ArchivePath)
}

// TestStore_LatestIgnoresDashExtendedSiblings ensures an instance name that
// prefixes another ("survival" vs "survival-hard") never resolves to the
// sibling's archives, even when those sort above its own.
func TestStore_LatestIgnoresDashExtendedSiblings(t *testing.T) {
	t.Parallel()

	backupDir := t.TempDir()
	store := NewStore(backupDir, "bedrock_server")

	mine := time.Date(2026, 8, 29, 3, 0, 0, 0, time.Local)
	siblings := time.Date(2026, 8, 30, 3, 0, 0, 0, time.Local)

	require.NoError(t, os.WriteFile(
		filepath.Join(backupDir, archiveName("survival", mine)), []byte("archive"), 0o640))
	require.NoError(t, os.WriteFile(
		filepath.Join(backupDir, archiveName("survival-hard", siblings)), []byte("archive"), 0o640))

	snap, err := store.Latest("survival")
	require.NoError(t, err)
	require.Equal(t, "survival", snap.InstanceName)
	require.True(t, snap.CreatedAt.Equal(mine))
	require.Equal(t, filepath.Join(backupDir, archiveName("survival", mine)), snap.ArchivePath)

	snap, err = store.Latest("survival-hard")
	require.NoError(t, err)
	require.True(t, snap.CreatedAt.Equal(siblings))
}

// TestStore_List returns every parseable archive newest first, including
// instance names that contain dashes.
func TestStore_List(t *testing.T) {
	t.Parallel()

	backupDir := t.TempDir()
	store := NewStore(backupDir, "bedrock_server")

	first := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	second := time.Date(2026, 8, 30, 12, 0, 0, 0, time.Local)

	require.NoError(t, os.WriteFile(
		filepath.Join(backupDir, archiveName("survival", first)), []byte("a"), 0o640))
	require.NoError(t, os.WriteFile(
		filepath.Join(backupDir, archiveName("skyblock-hard", second)), []byte("b"), 0o640))

	snapshots, err := store.List()
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	require.Equal(t, "skyblock-hard", snapshots[0].InstanceName)
	require.True(t, snapshots[0].CreatedAt.Equal(second))
	require.Equal(t, filepath.Join(backupDir, archiveName("skyblock-hard", second)), snapshots[0].ArchivePath)

	require.Equal(t, "survival", snapshots[1].InstanceName)
	require.True(t, snapshots[1].CreatedAt.Equal(first))
}

// TestStore_PruneOlderThan removes only archives past the retention window.
func TestStore_PruneOlderThan(t *testing.T) {
	t.Parallel()

	backupDir := t.TempDir()
	store := NewStore(backupDir, "bedrock_server")

	now := time.Now()
	stale := filepath.Join(backupDir, archiveName("survival", now.AddDate(0, 0, -30)))
	fresh := filepath.Join(backupDir, archiveName("survival", now))

	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o640))
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o640))
	require.NoError(t, os.Chtimes(stale, now.AddDate(0, 0, -30), now.AddDate(0, 0, -30)))

	removed, err := store.PruneOlderThan(context.Background(), 14)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	require.NoFileExists(t, stale)
	require.FileExists(t, fresh)

	// Idempotent when nothing is due.
	removed, err = store.PruneOlderThan(context.Background(), 14)
	require.NoError(t, err)
	require.Zero(t, removed)
}

// TestStore_RestoreFailureKeepsOriginal verifies that a corrupt archive
// leaves the pre-restore directory exactly as it was.
func TestStore_RestoreFailureKeepsOriginal(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	targetDir := filepath.Join(base, "survival")
	tree := map[string]string{"bedrock_server": "#!current", "server.properties": "keep=me\n"}
	writeTree(t, targetDir, tree)

	archivePath := filepath.Join(base, archiveName("survival", time.Now()))
	require.NoError(t, os.WriteFile(archivePath, []byte("not a gzip stream"), 0o640))

	store := NewStore(base, "bedrock_server")
	snap := update.Snapshot{InstanceName: "survival", CreatedAt: time.Now(), ArchivePath: archivePath}

	require.Error(t, store.Restore(context.Background(), snap, targetDir))
	require.Equal(t, tree, readTree(t, targetDir))
}
