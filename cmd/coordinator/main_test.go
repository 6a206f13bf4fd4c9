package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/herd/internal/admin"
	"github.com/dreamware/herd/internal/config"
	"github.com/dreamware/herd/internal/protocol"
	"github.com/dreamware/herd/internal/transport/natsbus"
	"github.com/dreamware/herd/internal/transport/tcp"
)

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run", "submit", "resources", "jobs", "version"})
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "herd coordinator "+version)
}

func TestNewTransport(t *testing.T) {
	cfg := config.Default().Coordinator

	cfg.ListenURI = "tcp://127.0.0.1:0"
	tr, err := newTransport(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &tcp.Transport{}, tr)

	cfg.ListenURI = "nats://127.0.0.1:4222"
	tr, err = newTransport(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &natsbus.Transport{}, tr)

	cfg.ListenURI = "udp://127.0.0.1:1"
	_, err = newTransport(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrUnsupportedScheme)

	cfg.ListenURI = "tcp://127.0.0.1:0"
	cfg.Delivery = "sometimes"
	_, err = newTransport(cfg, zerolog.Nop())
	assert.Error(t, err)
}

// TestRunCoordinatorRejectsBadConfig verifies configuration errors stop
// the process before anything listens.
func TestRunCoordinatorRejectsBadConfig(t *testing.T) {
	cfg := config.Default().Coordinator
	cfg.Platform = "MPI"

	called := false
	err := runCoordinator(context.Background(), cfg, zerolog.Nop(), func(process) { called = true })
	assert.ErrorIs(t, err, config.ErrUnsupportedPlatform)
	assert.False(t, called)
}

// TestRunCoordinatorBindFailure verifies a listen failure is returned.
func TestRunCoordinatorBindFailure(t *testing.T) {
	occupied := tcp.New(tcp.Options{Logger: zerolog.Nop()})
	require.NoError(t, occupied.Listen(context.Background(), "tcp://127.0.0.1:0"))
	defer occupied.StopListen()

	cfg := config.Default().Coordinator
	cfg.ListenURI = "tcp://" + occupied.Addr().String()
	cfg.StatusAddr = ""

	err := runCoordinator(context.Background(), cfg, zerolog.Nop(), nil)
	assert.Error(t, err)
}

// TestRunCoordinatorServes runs a whole coordinator process: a resource
// registers over TCP, the status view reports it, a job is recorded in
// the SQLite ledger, and cancellation shuts everything down.
func TestRunCoordinatorServes(t *testing.T) {
	cfg := config.Default().Coordinator
	cfg.ListenURI = "tcp://127.0.0.1:0"
	cfg.StatusAddr = "127.0.0.1:0"
	cfg.LedgerPath = filepath.Join(t.TempDir(), "jobs.db")
	cfg.WaitInterval = 50 * time.Millisecond
	cfg.LivenessInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan process, 1)
	done := make(chan error, 1)
	go func() {
		done <- runCoordinator(ctx, cfg, zerolog.Nop(), func(p process) { ready <- p })
	}()

	var p process
	select {
	case p = <-ready:
	case err := <-done:
		t.Fatalf("coordinator exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not become ready")
	}
	require.NotNil(t, p.statusAddr)

	tr, ok := p.transport.(*tcp.Transport)
	require.True(t, ok)
	client, err := tcp.Dial(ctx, "tcp://"+tr.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Send(ctx, protocol.NewRegistration("6ba7b810-9dad-11d1-80b4-00c04fd430c8", []byte("gpu=1"))))

	status := admin.NewClient(p.statusAddr.String())
	require.Eventually(t, func() bool {
		res, err := status.Resources(ctx)
		return err == nil && len(res.Resources) == 1 && res.Resources[0].Status == "alive"
	}, 5*time.Second, 10*time.Millisecond)

	handle, err := status.SubmitJob(ctx, admin.SubmitJobRequest{Name: "nightly"})
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}
	assert.Equal(t, "stopped", p.coordinator.State().String())
}

// TestClientCommands drives submit, resources and jobs against a fake
// status view.
func TestClientCommands(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/jobs" && r.Method == http.MethodPost:
			var req admin.SubmitJobRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Name != "build" || string(req.Payload) != "x" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(admin.SubmitJobResponse{Handle: "handle-1"})
		case r.URL.Path == "/jobs":
			json.NewEncoder(w).Encode(admin.JobsResponse{})
		case r.URL.Path == "/resources":
			json.NewEncoder(w).Encode(admin.ResourcesResponse{
				Coordinator: "c",
				Resources:   []admin.ResourceInfo{{ID: "r-1", Status: "stale", Descriptor: []byte("abc")}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	run := func(args ...string) string {
		t.Helper()
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(args)
		require.NoError(t, root.ExecuteContext(context.Background()))
		return out.String()
	}

	assert.Equal(t, "handle-1\n", run("submit", "build", "--payload", "x", "--status", server.URL))

	out := run("resources", "--status", server.URL)
	assert.Contains(t, out, "r-1")
	assert.Contains(t, out, "stale")
	assert.Contains(t, out, "3 bytes")

	out = run("jobs", "--status", server.URL)
	assert.True(t, strings.HasPrefix(out, "HANDLE"))
}
