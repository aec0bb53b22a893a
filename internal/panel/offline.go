package panel

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/fleet-updater/internal/domain/update"
	"github.com/oshokin/fleet-updater/internal/logger"
)

// Offline is an in-memory API implementation for development and tests.
// Power transitions settle immediately and connectivity always succeeds.
type Offline struct {
	mu       sync.Mutex
	running  map[string]bool
	versions map[string]string
}

// NewOffline creates an offline control plane where every instance starts
// in the running state.
func NewOffline() *Offline {
	return &Offline{
		running:  make(map[string]bool),
		versions: make(map[string]string),
	}
}

// SetVersion sets the version the stub reports for an instance.
func (o *Offline) SetVersion(remoteID, version string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.versions[remoteID] = version
}

// Stop implements API.
func (o *Offline) Stop(ctx context.Context, instance update.Instance, _ time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.running[instance.RemoteID] = false
	logger.DebugKV(ctx, "Offline panel stop", "instance", instance.Name)

	return nil
}

// Start implements API.
func (o *Offline) Start(ctx context.Context, instance update.Instance, _ time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.running[instance.RemoteID] = true
	logger.DebugKV(ctx, "Offline panel start", "instance", instance.Name)

	return nil
}

// IsRunning implements API.
func (o *Offline) IsRunning(_ context.Context, instance update.Instance) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, known := o.running[instance.RemoteID]
	if !known {
		// Unknown instances are treated as running so a dev run
		// exercises the stop phase.
		return true, nil
	}

	return state, nil
}

// Version implements API.
func (o *Offline) Version(_ context.Context, instance update.Instance) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.versions[instance.RemoteID], nil
}

// TestConnectivity implements API.
func (o *Offline) TestConnectivity(context.Context) error {
	return nil
}
