package release

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/fleet-updater/internal/domain/update"
)

// stubPanel reports a fixed version string for every instance.
type stubPanel struct {
	version    string
	versionErr error
}

func (s *stubPanel) Stop(context.Context, update.Instance, time.Duration) error {
	return nil
}

func (s *stubPanel) Start(context.Context, update.Instance, time.Duration) error {
	return nil
}

func (s *stubPanel) IsRunning(context.Context, update.Instance) (bool, error) {
	return true, nil
}

func (s *stubPanel) Version(context.Context, update.Instance) (string, error) {
	return s.version, s.versionErr
}

func (s *stubPanel) TestConnectivity(context.Context) error {
	return nil
}

// TestVersionFromArtifactURL extracts versions from release filenames.
func TestVersionFromArtifactURL(t *testing.T) {
	t.Parallel()

	version, err := VersionFromArtifactURL("https://cdn.example.com/bin-linux/bedrock-server-1.21.131.1.zip")
	require.NoError(t, err)
	require.Equal(t, "1.21.131.1", version.String())

	_, err = VersionFromArtifactURL("https://cdn.example.com/bin-linux/server.zip")
	require.Error(t, err)

	_, err = VersionFromArtifactURL("https://cdn.example.com/bin-linux/bedrock-server-beta.zip")
	require.Error(t, err)
}

// TestLocator_LatestRelease parses the manifest and derives the version
// from the artifact filename.
func TestLocator_LatestRelease(t *testing.T) {
	t.Parallel()

	manifestBody := `{
		"result": {
			"links": [
				{"type": "serverBedrockWindows", "url": "https://cdn.example.com/bin-win/bedrock-server-1.21.131.1.zip"},
				{"type": "serverBedrockLinux", "url": "https://cdn.example.com/bin-linux/bedrock-server-1.21.131.1.zip"}
			]
		}
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(manifestBody))
	}))
	defer server.Close()

	locator := NewLocator(server.URL, "serverBedrockLinux", "release-notes.txt", &stubPanel{}, nil)

	version, artifactURL, err := locator.LatestRelease(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.21.131.1", version.String())
	require.Equal(t, "https://cdn.example.com/bin-linux/bedrock-server-1.21.131.1.zip", artifactURL)
}

// TestLocator_LatestRelease_FailsLoudly rejects missing platforms and
// unexpected manifest shapes without a fallback.
func TestLocator_LatestRelease_FailsLoudly(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result": {"links": []}}`))
	}))
	defer server.Close()

	locator := NewLocator(server.URL, "serverBedrockLinux", "release-notes.txt", &stubPanel{}, nil)

	_, _, err := locator.LatestRelease(context.Background())
	require.ErrorIs(t, err, errNoPlatformLink)

	// Non-JSON body.
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer garbage.Close()

	locator = NewLocator(garbage.URL, "serverBedrockLinux", "release-notes.txt", &stubPanel{}, nil)

	_, _, err = locator.LatestRelease(context.Background())
	require.Error(t, err)

	// Non-200 status.
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	locator = NewLocator(broken.URL, "serverBedrockLinux", "release-notes.txt", &stubPanel{}, nil)

	_, _, err = locator.LatestRelease(context.Background())
	require.ErrorIs(t, err, errBadManifestStatus)
}

// TestLocator_CurrentVersion covers the panel-reported path, the
// release-notes fallback, and the indeterminate case.
func TestLocator_CurrentVersion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	instance := update.Instance{Name: "survival", RemoteID: "srv-1", Directory: dir}

	// Panel reports a version directly.
	locator := NewLocator("https://feed.invalid", "p", "release-notes.txt", &stubPanel{version: "1.21.130.0"}, nil)

	version, err := locator.CurrentVersion(context.Background(), instance)
	require.NoError(t, err)
	require.Equal(t, "1.21.130.0", version.String())

	// Panel silent, release notes carry the version in the first lines.
	notes := "Bedrock Dedicated Server\n\nChanges in version 1.21.131.1:\n- fixes\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "release-notes.txt"), []byte(notes), 0o600))

	locator = NewLocator("https://feed.invalid", "p", "release-notes.txt", &stubPanel{}, nil)

	version, err = locator.CurrentVersion(context.Background(), instance)
	require.NoError(t, err)
	require.Equal(t, "1.21.131.1", version.String())

	// Neither source: indeterminate is the zero version, not an error.
	empty := update.Instance{Name: "fresh", RemoteID: "srv-2", Directory: t.TempDir()}

	version, err = locator.CurrentVersion(context.Background(), empty)
	require.NoError(t, err)
	require.True(t, version.IsZero())
}
