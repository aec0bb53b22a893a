package project

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/fleet-updater/internal/domain/update"
	"github.com/oshokin/fleet-updater/internal/logger"

	// Ensure SHA-512 is linked in for checksum calculation.
	_ "crypto/sha512"
)

const (
	// defaultFileMode is applied to update targets created fresh.
	defaultFileMode os.FileMode = 0o755

	// checksumFunction guards each applied file against corruption
	// between read and write.
	checksumFunction crypto.Hash = crypto.SHA512
)

// Projector copies allow-listed release files onto instance directories.
type Projector struct {
	policy update.FileProtectionPolicy
}

// NewProjector creates a projector bound to the shared protection policy.
func NewProjector(policy update.FileProtectionPolicy) *Projector {
	return &Projector{policy: policy}
}

// Apply projects every allow-listed path present in extractedDir onto
// instanceDir, overwriting existing files. Paths missing from the release
// are skipped with a warning, since releases may legitimately drop files.
// The first copy failure aborts the remaining files: partial application of
// a release is unsafe, and the caller is expected to roll the instance
// back. Returns how many files were applied.
func (p *Projector) Apply(ctx context.Context, extractedDir, instanceDir string) (int, error) {
	applied := 0

	for _, relative := range p.policy.UpdateFiles {
		// The load-time policy check already rejects overlap; this
		// guards against a policy constructed without validation.
		if p.policy.IsPreserved(relative) {
			logger.WarnKV(ctx, "Update path is preserved by policy, skipping",
				"path", relative)

			continue
		}

		source := filepath.Join(extractedDir, relative)
		if _, err := os.Stat(source); err != nil {
			logger.WarnKV(ctx, "Release does not carry update path, skipping",
				"path", relative)

			continue
		}

		if err := p.applyFile(ctx, source, filepath.Join(instanceDir, relative)); err != nil {
			return applied, fmt.Errorf("apply %s: %w", relative, err)
		}

		applied++
	}

	return applied, nil
}

// applyFile replaces destination with the contents of source. go-update
// writes to a temporary file, moves the old file aside, and swaps the new
// one in; on failure the aside copy is moved back, and on success the
// leftover aside file is removed.
func (p *Projector) applyFile(ctx context.Context, source, destination string) error {
	data, err := os.ReadFile(filepath.Clean(source))
	if err != nil {
		return err
	}

	checksum, err := fileChecksum(data)
	if err != nil {
		return err
	}

	mode := defaultFileMode
	if info, err := os.Stat(source); err == nil && info.Mode().Perm() != 0 {
		mode = info.Mode().Perm()
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}

	// go-update needs an existing target to swap; a placeholder is created
	// for files the release introduces.
	createdPlaceholder := false

	if _, err := os.Stat(destination); err != nil && os.IsNotExist(err) {
		placeholder, err := os.Create(filepath.Clean(destination))
		if err != nil {
			return err
		}

		if err := placeholder.Close(); err != nil {
			return err
		}

		createdPlaceholder = true
	}

	options := goupdate.Options{
		TargetPath: destination,
		TargetMode: mode,
		Checksum:   checksum,
		Hash:       checksumFunction,
	}

	if err := goupdate.Apply(bytes.NewReader(data), options); err != nil {
		// A failed first-time apply must not leave the empty placeholder
		// at a path that did not exist before the run.
		if createdPlaceholder {
			_ = os.Remove(destination)
		}

		return err
	}

	// go-update leaves the previous file at <name>.old after a
	// successful swap; the aside copy is only needed on failure.
	oldFileName := destination + ".old"
	if _, err := os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	logger.DebugKV(ctx, "File applied", "path", destination)

	return nil
}

// fileChecksum hashes the file contents with the configured function.
func fileChecksum(data []byte) ([]byte, error) {
	if !checksumFunction.Available() {
		return nil, fmt.Errorf("checksum function unavailable: %v", checksumFunction)
	}

	hasher := checksumFunction.New()
	if _, err := hasher.Write(data); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}
