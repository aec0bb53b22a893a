package release

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/oshokin/fleet-updater/internal/logger"
)

var (
	errBadDownloadStatus = errors.New("unexpected http status for artifact download")
	errArtifactTooSmall  = errors.New("artifact is smaller than the minimum plausible size")
	errUnsafeArchivePath = errors.New("archive entry escapes the destination directory")
)

const (
	// artifactFileMode is applied to the downloaded archive.
	artifactFileMode os.FileMode = 0o640

	// executableFileMode is applied to the main server executable after
	// extraction.
	executableFileMode os.FileMode = 0o755

	// extractDirMode is applied to directories created during extraction.
	extractDirMode os.FileMode = 0o755
)

// Fetcher downloads and unpacks release artifacts. Three checks gate
// acceptance of a download: the transfer completes within the timeout, the
// file meets the minimum plausible size, and the archive opens as a
// structurally valid zip. A failed download never leaves a partial file
// behind.
type Fetcher struct {
	minArtifactSize int64
	downloadTimeout time.Duration
	serverBinary    string
	httpClient      *http.Client
}

// NewFetcher creates a fetcher. serverBinary is the executable whose run
// permission bit is set after extraction.
func NewFetcher(minArtifactSize int64, downloadTimeout time.Duration, serverBinary string, httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Fetcher{
		minArtifactSize: minArtifactSize,
		downloadTimeout: downloadTimeout,
		serverBinary:    serverBinary,
		httpClient:      httpClient,
	}
}

// Download streams the artifact at artifactURL to destination. On any
// failure the partial file is removed before returning.
func (f *Fetcher) Download(ctx context.Context, artifactURL, destination string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, f.downloadTimeout)
	defer cancel()

	defer func() {
		if err != nil {
			_ = os.Remove(destination)
		}
	}()

	if err = f.transfer(ctx, artifactURL, destination); err != nil {
		return err
	}

	info, err := os.Stat(destination)
	if err != nil {
		return err
	}

	if info.Size() < f.minArtifactSize {
		return fmt.Errorf("%d bytes, need at least %d: %w",
			info.Size(), f.minArtifactSize, errArtifactTooSmall)
	}

	if err = validateArchive(destination); err != nil {
		return err
	}

	checksum, err := fileSHA256(destination)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Artifact downloaded and validated",
		"path", destination, "size_bytes", info.Size(), "sha256", checksum)

	return nil
}

// fileSHA256 returns the hex SHA-256 digest of the file, recorded so an
// accepted artifact can be matched against upstream checksums later.
func fileSHA256(path string) (string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("checksum artifact: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// transfer performs the HTTP GET and writes the body to destination.
func (f *Fetcher) transfer(ctx context.Context, artifactURL, destination string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, http.NoBody)
	if err != nil {
		return err
	}

	response, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download artifact: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w", response.Status, errBadDownloadStatus)
	}

	file, err := os.OpenFile(filepath.Clean(destination), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, artifactFileMode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(file, response.Body); err != nil {
		_ = file.Close()

		return fmt.Errorf("write artifact: %w", err)
	}

	return file.Close()
}

// validateArchive opens the archive and walks every entry header without
// extracting, rejecting structurally corrupt files.
func validateArchive(archivePath string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("artifact is not a valid archive: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, entry := range reader.File {
		if entry.Name == "" {
			return fmt.Errorf("artifact is not a valid archive: %w", zip.ErrFormat)
		}
	}

	return nil
}

// Extract fully unpacks the archive into destinationDir and sets the run
// permission bit on the main server executable.
func (f *Fetcher) Extract(ctx context.Context, archivePath, destinationDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, entry := range reader.File {
		if err := extractEntry(entry, destinationDir); err != nil {
			return err
		}
	}

	binaryPath := filepath.Join(destinationDir, f.serverBinary)
	if _, err := os.Stat(binaryPath); err == nil {
		if err := os.Chmod(binaryPath, executableFileMode); err != nil {
			return fmt.Errorf("mark server binary executable: %w", err)
		}
	}

	logger.InfoKV(ctx, "Artifact extracted",
		"archive", archivePath, "destination", destinationDir)

	return nil
}

// extractEntry writes one archive entry under destinationDir, refusing
// entries whose cleaned path would escape it.
func extractEntry(entry *zip.File, destinationDir string) error {
	cleaned := filepath.Clean(entry.Name)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return fmt.Errorf("%q: %w", entry.Name, errUnsafeArchivePath)
	}

	target := filepath.Join(destinationDir, cleaned)

	if entry.FileInfo().IsDir() {
		return os.MkdirAll(target, extractDirMode)
	}

	if err := os.MkdirAll(filepath.Dir(target), extractDirMode); err != nil {
		return err
	}

	source, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
	}

	defer func() {
		_ = source.Close()
	}()

	file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, entry.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(file, source); err != nil {
		_ = file.Close()

		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}

	return file.Close()
}
