package update

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	errInstanceNameRequired = errors.New("instance name must be provided")
	errInstanceIDRequired   = errors.New("instance remote id must be provided")
	errInstancePathRequired = errors.New("instance directory must be provided")
	errUnsafeRelativePath   = errors.New("policy path must be relative and must not escape the instance directory")
	errPolicyOverlap        = errors.New("update path is also marked as preserved")
)

// Instance identifies one managed server installation. Instances are loaded
// once from the registry at startup and never change during a run.
type Instance struct {
	// Name is the unique operator-facing identifier, also used in snapshot filenames.
	Name string `yaml:"name"`
	// RemoteID is the opaque handle the control panel uses for this server.
	RemoteID string `yaml:"remote_id"`
	// Directory is the absolute path of the server installation on disk.
	Directory string `yaml:"path"`
}

// Validate checks that all identity fields are present.
func (i Instance) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return errInstanceNameRequired
	}

	if strings.TrimSpace(i.RemoteID) == "" {
		return fmt.Errorf("instance %s: %w", i.Name, errInstanceIDRequired)
	}

	if strings.TrimSpace(i.Directory) == "" {
		return fmt.Errorf("instance %s: %w", i.Name, errInstancePathRequired)
	}

	return nil
}

// FileProtectionPolicy controls which relative paths a release application
// may touch. UpdateFiles is an exhaustive allow-list; everything else is left
// alone. PreserveFiles and PreserveDirectories are hard exclusions checked on
// top of the allow-list.
type FileProtectionPolicy struct {
	// UpdateFiles lists the relative paths a release may overwrite.
	UpdateFiles []string `yaml:"update_files"`
	// PreserveFiles lists exact relative paths that are never overwritten.
	PreserveFiles []string `yaml:"preserve_files"`
	// PreserveDirectories lists relative subtrees that are never touched.
	PreserveDirectories []string `yaml:"preserve_dirs"`
}

// IsPreserved reports whether the relative path is excluded from updates,
// either as an exact preserved file or inside a preserved subtree.
func (p FileProtectionPolicy) IsPreserved(relative string) bool {
	relative = filepath.ToSlash(filepath.Clean(relative))

	for _, file := range p.PreserveFiles {
		if relative == filepath.ToSlash(filepath.Clean(file)) {
			return true
		}
	}

	for _, dir := range p.PreserveDirectories {
		cleaned := filepath.ToSlash(filepath.Clean(dir))
		if relative == cleaned || strings.HasPrefix(relative, cleaned+"/") {
			return true
		}
	}

	return false
}

// Validate rejects unsafe paths and overlap between the allow-list and the
// preserve sets. Overlap is a configuration mistake: silently prioritising
// one list over the other would make the result depend on iteration order.
func (p FileProtectionPolicy) Validate() error {
	for _, group := range [][]string{p.UpdateFiles, p.PreserveFiles, p.PreserveDirectories} {
		for _, path := range group {
			if err := checkRelativePath(path); err != nil {
				return err
			}
		}
	}

	for _, file := range p.UpdateFiles {
		if p.IsPreserved(file) {
			return fmt.Errorf("%q: %w", file, errPolicyOverlap)
		}
	}

	return nil
}

// checkRelativePath rejects absolute paths and paths escaping the root.
func checkRelativePath(path string) error {
	if path == "" || filepath.IsAbs(path) {
		return fmt.Errorf("%q: %w", path, errUnsafeRelativePath)
	}

	cleaned := filepath.ToSlash(filepath.Clean(path))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%q: %w", path, errUnsafeRelativePath)
	}

	return nil
}
