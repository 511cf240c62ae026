package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func startTestWatcher(t *testing.T, path string, onReload ReloadFunc) *Watcher {
	t.Helper()
	w, err := NewWatcher(path, onReload, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfigFile(t, path, minimalYAML)

	reloaded := make(chan *GatewayConfig, 1)
	startTestWatcher(t, path, func(cfg *GatewayConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	writeConfigFile(t, path, `
server:
  httpPort: 9999
backends:
  - name: inference
    kind: inference
    instances:
      - name: i1
        address: http://localhost:9101
        maxConnections: 10
`)

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9999, cfg.Server.HTTPPort)
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback was not invoked")
	}
}

func TestWatcher_SkipsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfigFile(t, path, minimalYAML)

	var reloads atomic.Int64
	startTestWatcher(t, path, func(*GatewayConfig) {
		reloads.Add(1)
	})

	// An out-of-range port fails validation; the callback must not see it.
	writeConfigFile(t, path, `
server:
  httpPort: 99999
backends:
  - name: inference
    kind: inference
    instances:
      - name: i1
        address: http://localhost:9101
        maxConnections: 10
`)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int64(0), reloads.Load())
}

func TestWatcher_StartFailsOnMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfigFile(t, path, minimalYAML)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}
