package panel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/fleet-updater/internal/domain/update"
)

// fakePanelServer simulates the control plane's status and power endpoints.
// A power action does not take effect until settleAfter further status
// polls have happened, exercising the client's poll loop.
type fakePanelServer struct {
	mu            sync.Mutex
	running       bool
	version       string
	settleAfter   int
	pendingTarget *bool
	polls         int
	powerCalls    []string
	lastToken     string
}

func (f *fakePanelServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/servers/srv-1/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.lastToken = r.Header.Get("Authorization")
		f.polls++

		if f.pendingTarget != nil {
			if f.settleAfter > 0 {
				f.settleAfter--
			} else {
				f.running = *f.pendingTarget
				f.pendingTarget = nil
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"running": ` + boolJSON(f.running) + `, "version": "` + f.version + `"}`))
	})

	power := func(action string, target bool) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()

			f.powerCalls = append(f.powerCalls, action)
			state := target
			f.pendingTarget = &state
			w.WriteHeader(http.StatusNoContent)
		}
	}

	mux.HandleFunc("/api/servers/srv-1/stop", power("stop", false))
	mux.HandleFunc("/api/servers/srv-1/start", power("start", true))
	mux.HandleFunc("/api/servers", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	return mux
}

func boolJSON(b bool) string {
	if b {
		return "true"
	}

	return "false"
}

func testInstance() update.Instance {
	return update.Instance{Name: "survival", RemoteID: "srv-1", Directory: "/srv/survival"}
}

// TestClient_StopIsIdempotent verifies that no power command is issued when
// the instance is already stopped.
func TestClient_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	fake := &fakePanelServer{running: false}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := NewClient(server.URL, "token", WithPollInterval(time.Millisecond))

	err := client.Stop(context.Background(), testInstance(), time.Second)
	require.NoError(t, err)
	require.Empty(t, fake.powerCalls)
}

// TestClient_StopPollsUntilSettled verifies the poll loop and the bearer header.
func TestClient_StopPollsUntilSettled(t *testing.T) {
	t.Parallel()

	fake := &fakePanelServer{running: true, settleAfter: 3}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := NewClient(server.URL, "sekrit", WithPollInterval(time.Millisecond))

	err := client.Stop(context.Background(), testInstance(), time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"stop"}, fake.powerCalls)
	require.Equal(t, "Bearer sekrit", fake.lastToken)

	running, err := client.IsRunning(context.Background(), testInstance())
	require.NoError(t, err)
	require.False(t, running)
}

// TestClient_StartTimesOut verifies that a transition that never settles is
// reported as a failure, not a hang.
func TestClient_StartTimesOut(t *testing.T) {
	t.Parallel()

	// The status endpoint always reports stopped.
	mux := http.NewServeMux()
	mux.HandleFunc("/api/servers/srv-1/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"running": false}`))
	})
	mux.HandleFunc("/api/servers/srv-1/start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "token", WithPollInterval(time.Millisecond))

	err := client.Start(context.Background(), testInstance(), 20*time.Millisecond)
	require.ErrorIs(t, err, errPowerTimeout)
}

// TestClient_NonOKStatusIsFailure verifies non-2xx responses are errors and
// that an undecodable status means "cannot determine".
func TestClient_NonOKStatusIsFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/servers/srv-1/status", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "token")

	_, err := client.IsRunning(context.Background(), testInstance())
	require.ErrorIs(t, err, errStatusUnavailable)

	// Garbage body.
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer garbage.Close()

	client = NewClient(garbage.URL, "token")

	_, err = client.IsRunning(context.Background(), testInstance())
	require.ErrorIs(t, err, errStatusUnavailable)
}

// TestClient_TestConnectivity checks the reachability probe.
func TestClient_TestConnectivity(t *testing.T) {
	t.Parallel()

	fake := &fakePanelServer{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := NewClient(server.URL, "token")
	require.NoError(t, client.TestConnectivity(context.Background()))

	client = NewClient("http://127.0.0.1:1", "token")
	require.Error(t, client.TestConnectivity(context.Background()))
}

// TestOffline checks the in-memory control plane used in dev mode.
func TestOffline(t *testing.T) {
	t.Parallel()

	offline := NewOffline()
	instance := testInstance()

	require.NoError(t, offline.TestConnectivity(context.Background()))

	// Unknown instances report running so a dev run exercises stop.
	running, err := offline.IsRunning(context.Background(), instance)
	require.NoError(t, err)
	require.True(t, running)

	require.NoError(t, offline.Stop(context.Background(), instance, time.Second))

	running, err = offline.IsRunning(context.Background(), instance)
	require.NoError(t, err)
	require.False(t, running)

	require.NoError(t, offline.Start(context.Background(), instance, time.Second))

	running, err = offline.IsRunning(context.Background(), instance)
	require.NoError(t, err)
	require.True(t, running)

	offline.SetVersion(instance.RemoteID, "1.21.131.1")

	reported, err := offline.Version(context.Background(), instance)
	require.NoError(t, err)
	require.Equal(t, "1.21.131.1", reported)
}
