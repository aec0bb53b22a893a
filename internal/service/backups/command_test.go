package backups

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/fleet-updater/internal/config"
	"github.com/oshokin/fleet-updater/internal/domain/update"
)

func writeConfig(t *testing.T, base string) string {
	t.Helper()

	cfg := &config.Config{
		Panel: config.PanelConfig{Offline: true},
		Feed: config.FeedConfig{
			ManifestURL: "https://feed.example.com/links",
			Platform:    "serverBedrockLinux",
		},
		Directories: config.DirectoriesConfig{
			Backups: filepath.Join(base, "backups"),
		},
		Instances: []update.Instance{
			{Name: "survival", RemoteID: "srv-a", Directory: filepath.Join(base, "survival")},
		},
		Policy: update.FileProtectionPolicy{
			UpdateFiles: []string{"bedrock_server"},
		},
	}

	path := filepath.Join(base, "fleet-updater.yaml")
	require.NoError(t, config.Save(path, cfg))

	return path
}

func TestList(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	configPath := writeConfig(t, base)

	// An empty backup directory lists cleanly.
	require.NoError(t, List(context.Background(), &Options{ConfigPath: configPath}))

	backupDir := filepath.Join(base, "backups")
	require.NoError(t, os.MkdirAll(backupDir, 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(backupDir, "backup-survival-2026-08-30-031500.tar.gz"), []byte("archive"), 0o640))

	require.NoError(t, List(context.Background(), &Options{ConfigPath: configPath}))
}

func TestPrune(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	configPath := writeConfig(t, base)

	backupDir := filepath.Join(base, "backups")
	require.NoError(t, os.MkdirAll(backupDir, 0o750))

	stale := filepath.Join(backupDir, "backup-survival-2026-07-01-031500.tar.gz")
	fresh := filepath.Join(backupDir, "backup-survival-2026-08-30-031500.tar.gz")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o640))
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o640))

	old := time.Now().AddDate(0, 0, -60)
	require.NoError(t, os.Chtimes(stale, old, old))

	// The flag override narrows the configured window.
	require.NoError(t, Prune(context.Background(), &Options{ConfigPath: configPath, RetentionDays: 30}))

	require.NoFileExists(t, stale)
	require.FileExists(t, fresh)
}

func TestInstances(t *testing.T) {
	t.Parallel()

	configPath := writeConfig(t, t.TempDir())

	require.NoError(t, Instances(context.Background(), &Options{ConfigPath: configPath}))
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "512 B", formatSize(512))
	require.Equal(t, "1.5 KiB", formatSize(1536))
	require.Equal(t, "2.0 MiB", formatSize(2<<20))
	require.Equal(t, "1.0 GiB", formatSize(1<<30))
}
