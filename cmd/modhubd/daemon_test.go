package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/config"
	"github.com/GoCodeAlone/modhub/internal/logging"
	"github.com/GoCodeAlone/modhub/internal/testutil"
	"github.com/GoCodeAlone/modhub/modules/heartbeat"
)

const modulesYAML = `modules:
  - id: beat-1
    name: First beat
    moduleType: modhub.heartbeat
    autoStart: true
    options:
      interval: 20ms
      serial: B1
`

func TestDaemon(t *testing.T) {
	testutil.Isolate(t)
	dir := t.TempDir()
	modulesPath := filepath.Join(dir, "modules.yaml")
	require.NoError(t, os.WriteFile(modulesPath, []byte(modulesYAML), 0o600))
	journalPath := filepath.Join(dir, "events", "journal.jsonl")

	cfg := config.DefaultConfig()
	cfg.Modules.Path = modulesPath
	cfg.DataPath = filepath.Join(dir, "data")
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Admin.Enabled = true
	cfg.Admin.Address = "127.0.0.1:0"
	cfg.Autosave.Schedule = "@every 1s"
	cfg.EventLog.Path = journalPath
	require.NoError(t, cfg.Validate())

	d, err := newDaemon(cfg, logging.New(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan net.Addr, 1)
	var hub *modhub.Hub
	d.onReady = func(h *modhub.Hub, admin net.Addr) {
		hub = h
		ready <- admin
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.run(ctx) }()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-errCh:
		t.Fatalf("daemon stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon not ready")
	}
	require.NotNil(t, addr)
	base := "http://" + addr.String()

	m, err := hub.Registry().ModuleByID("beat-1")
	require.NoError(t, err)
	require.True(t, m.WaitForState(modhub.StateStarted, 2*time.Second))
	hb := m.(*heartbeat.Module)
	require.True(t, testutil.WaitFor(2*time.Second, func() bool { return hb.Sequence() >= 2 }))

	t.Run("should serve the loaded modules", func(t *testing.T) {
		resp, err := http.Get(base + "/modules")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var views []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
		require.Len(t, views, 1)
		assert.Equal(t, "beat-1", views[0]["id"])
		assert.Equal(t, "STARTED", views[0]["state"])
		assert.Equal(t, "HB-B1", views[0]["uniqueId"])
	})

	t.Run("should serve metrics", func(t *testing.T) {
		resp, err := http.Get(base + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `modhub_module_state{module="beat-1",state="STARTED",type="modhub.heartbeat"} 1`)
		assert.Contains(t, string(body), "go_goroutines")
	})

	t.Run("should report readiness", func(t *testing.T) {
		resp, err := http.Get(base + "/readyz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}

	assert.Equal(t, modhub.StateStopped, m.CurrentState())
	assert.True(t, hub.Registry().IsShutdown())

	journal, err := os.ReadFile(journalPath)
	require.NoError(t, err)
	assert.Contains(t, string(journal), modhub.CloudEventTypeModuleLoaded)
	assert.Contains(t, string(journal), modhub.CloudEventTypeData)
	assert.Contains(t, string(journal), `"STOPPED"`)

	_, err = os.Stat(filepath.Join(cfg.DataPath, "beat-1"))
	assert.NoError(t, err, "state saved at shutdown")
}

func TestDaemon_BadRepository(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Modules.Path = filepath.Join(t.TempDir(), "modules.ini")

	d, err := newDaemon(cfg, logging.New(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)
	assert.Error(t, d.run(context.Background()))
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestCommands(t *testing.T) {
	testutil.Isolate(t)

	t.Run("version", func(t *testing.T) {
		assert.Equal(t, versionString()+"\n", execute(t, "version"))
	})

	t.Run("types", func(t *testing.T) {
		out := execute(t, "types")
		assert.True(t, strings.HasPrefix(out, heartbeat.Type+"\t"), out)
	})

	t.Run("config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "hub.yaml")
		require.NoError(t, os.WriteFile(path, []byte("dataPath: /var/lib/modhub\n"), 0o600))
		t.Setenv("MODHUB_ADMIN_ADDRESS", "0.0.0.0:9000")

		out := execute(t, "config", "--config", path)
		assert.Contains(t, out, "dataPath = /var/lib/modhub (yaml "+path+")")
		assert.Contains(t, out, "admin.address = 0.0.0.0:9000 (env MODHUB_ADMIN_ADDRESS)")
		assert.Contains(t, out, "log.level = info (default)")
	})
}
