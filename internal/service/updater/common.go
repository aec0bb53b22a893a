package updater

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/fleet-updater/internal/logger"
)

const (
	// MarkerFilename marks that an update run is in progress to avoid
	// two runs interleaving on one host.
	MarkerFilename = "fleet-updater-run-marker.bin"

	// markerLifetime is the period after which a marker is considered
	// stale. An update run holding the marker longer than this has
	// almost certainly hung or crashed.
	markerLifetime = 30 * time.Minute

	// updaterExecutableName is the process name killed during stale
	// marker recovery.
	updaterExecutableName = "fleet-updater"
)

// IsRunInProgress checks the presence of the run marker and attempts
// recovery when the marker looks stale: the hung updater process is killed
// and the marker removed.
func IsRunInProgress(ctx context.Context) bool {
	fileInfo, err := os.Stat(MarkerFilename)
	if err == nil {
		if time.Since(fileInfo.ModTime()) <= markerLifetime {
			return true
		}

		logger.Info(ctx, "The run marker is stale, attempting cleanup")

		if err = terminateProcessByName(updaterExecutableName); err != nil {
			return true
		}

		if err = os.Remove(MarkerFilename); err != nil {
			return true
		}

		return false
	}

	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	logger.Infof(ctx, "Unable to read run marker: %v", err)

	return false
}

// terminateProcessByName kills other processes with the given executable name.
func terminateProcessByName(processName string) error {
	processList, err := ps.Processes()
	if err != nil {
		return err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() != processName {
			continue
		}

		var runningProcess *os.Process

		runningProcess, err = os.FindProcess(process.Pid())
		if err != nil {
			return err
		}

		if err = runningProcess.Kill(); err != nil {
			return err
		}
	}

	return nil
}
