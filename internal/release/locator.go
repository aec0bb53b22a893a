package release

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/oshokin/fleet-updater/internal/domain/update"
	"github.com/oshokin/fleet-updater/internal/logger"
	"github.com/oshokin/fleet-updater/internal/panel"
)

var (
	errBadManifestStatus = errors.New("unexpected http status from release feed")
	errNoPlatformLink    = errors.New("no download link for platform in release manifest")
	errNoVersionInName   = errors.New("artifact filename carries no version token")
)

// versionTokenPattern matches the first dotted numeric token in a line of
// release notes, e.g. "1.21.131.1".
var versionTokenPattern = regexp.MustCompile(`\d+(?:\.\d+)+`)

// releaseNotesScanLimit bounds how many lines of the release-notes file are
// scanned for a version token.
const releaseNotesScanLimit = 50

// Locator resolves the installed and the latest upstream release versions.
type Locator struct {
	manifestURL      string
	platform         string
	releaseNotesFile string
	panel            panel.API
	httpClient       *http.Client
}

// NewLocator creates a locator that reads the manifest at manifestURL and
// asks the control plane for panel-reported versions.
func NewLocator(manifestURL, platform, releaseNotesFile string, api panel.API, httpClient *http.Client) *Locator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Locator{
		manifestURL:      manifestURL,
		platform:         platform,
		releaseNotesFile: releaseNotesFile,
		panel:            api,
		httpClient:       httpClient,
	}
}

// manifest is the release feed document shape.
type manifest struct {
	Result struct {
		Links []manifestLink `json:"links"`
	} `json:"result"`
}

// manifestLink is one per-platform download entry.
type manifestLink struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// CurrentVersion determines the version installed for the instance. The
// panel-reported version is tried first; when the panel does not expose
// one, the instance's release-notes file is scanned for the first dotted
// numeric token. An indeterminate version is reported as ZeroVersion with
// no error, which the orchestrator treats as "update due".
func (l *Locator) CurrentVersion(ctx context.Context, instance update.Instance) (update.Version, error) {
	if reported, err := l.panel.Version(ctx, instance); err == nil && reported != "" {
		version, parseErr := update.ParseVersion(reported)
		if parseErr == nil {
			return version, nil
		}

		logger.WarnKV(ctx, "Panel reported an unparseable version",
			"instance", instance.Name, "version", reported)
	}

	version, err := l.versionFromReleaseNotes(ctx, instance)
	if err != nil {
		logger.WarnKV(ctx, "Could not determine installed version, assuming none",
			"instance", instance.Name, "error", err)

		return update.ZeroVersion, nil
	}

	return version, nil
}

// versionFromReleaseNotes scans the first lines of the release-notes file
// inside the instance directory for a dotted numeric token.
func (l *Locator) versionFromReleaseNotes(_ context.Context, instance update.Instance) (update.Version, error) {
	notesPath := filepath.Join(instance.Directory, l.releaseNotesFile)

	file, err := os.Open(filepath.Clean(notesPath))
	if err != nil {
		return update.ZeroVersion, fmt.Errorf("open release notes: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	for line := 0; line < releaseNotesScanLimit && scanner.Scan(); line++ {
		if token := versionTokenPattern.FindString(scanner.Text()); token != "" {
			return update.ParseVersion(token)
		}
	}

	return update.ZeroVersion, fmt.Errorf("no version token in first %d lines of %s",
		releaseNotesScanLimit, notesPath)
}

// LatestRelease queries the upstream manifest and returns the latest
// version together with the artifact download URL. The version is derived
// from the `<name>-<version>.<ext>` token in the URL's filename. Manifest
// shape drift or a missing platform link fails loudly; there is no
// fallback source.
func (l *Locator) LatestRelease(ctx context.Context) (update.Version, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.manifestURL, http.NoBody)
	if err != nil {
		return update.ZeroVersion, "", err
	}

	req.Header.Set("Accept", "application/json")

	response, err := l.httpClient.Do(req)
	if err != nil {
		return update.ZeroVersion, "", fmt.Errorf("fetch release manifest: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return update.ZeroVersion, "", fmt.Errorf("%s: %w", response.Status, errBadManifestStatus)
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return update.ZeroVersion, "", fmt.Errorf("read release manifest: %w", err)
	}

	var doc manifest
	if err := json.Unmarshal(data, &doc); err != nil {
		return update.ZeroVersion, "", fmt.Errorf("decode release manifest: %w", err)
	}

	for _, link := range doc.Result.Links {
		if link.Type != l.platform {
			continue
		}

		version, err := VersionFromArtifactURL(link.URL)
		if err != nil {
			return update.ZeroVersion, "", err
		}

		logger.InfoKV(ctx, "Latest upstream release located",
			"version", version, "url", link.URL)

		return version, link.URL, nil
	}

	return update.ZeroVersion, "", fmt.Errorf("%q: %w", l.platform, errNoPlatformLink)
}

// VersionFromArtifactURL extracts the dotted version from the final
// `<name>-<version>.<ext>` token of an artifact URL, e.g.
// ".../bedrock-server-1.21.131.1.zip" yields 1.21.131.1.
func VersionFromArtifactURL(artifactURL string) (update.Version, error) {
	base := path.Base(artifactURL)
	base = strings.TrimSuffix(base, path.Ext(base))

	separator := strings.LastIndex(base, "-")
	if separator < 0 || separator == len(base)-1 {
		return update.ZeroVersion, fmt.Errorf("%q: %w", artifactURL, errNoVersionInName)
	}

	version, err := update.ParseVersion(base[separator+1:])
	if err != nil {
		return update.ZeroVersion, fmt.Errorf("%q: %w", artifactURL, errNoVersionInName)
	}

	return version, nil
}
