package daemon

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowgate/internal/config"
	"firestige.xyz/flowgate/internal/core"
	"firestige.xyz/flowgate/internal/testutil"
)

var (
	h1 = core.MustParseMAC("00:00:00:00:00:01")
	h2 = core.MustParseMAC("00:00:00:00:00:02")
	t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestDaemonServesCaptureToCompletion(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "s1.pcap")
	require.NoError(t, testutil.WritePcap(capture, t0,
		testutil.UDP(h1, h2, "10.0.0.1", "10.0.0.2", 1000, 53),
		testutil.UDP(h2, h1, "10.0.0.2", "10.0.0.1", 53, 1000),
	))
	output := filepath.Join(dir, "s1.jsonl")
	pidFile := filepath.Join(dir, "flowgate.pid")

	configPath := writeConfig(t, dir, `
flowgate:
  log:
    level: error
  metrics:
    enabled: false
  switches:
    - name: s1
      mode: l2
      output: `+output+`
      source:
        type: file
        path: `+capture+`
        port: 1
`)

	d, err := New(configPath, pidFile)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run() }()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		d.TriggerShutdown()
		t.Fatal("daemon did not stop after the capture ended")
	}

	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err), "PID file should be removed")

	// Both frames arrive on port 1: the first floods, the reply to h1 is
	// switched back out of the ingress port and therefore ignored.
	recs := readLines(t, output)
	require.Len(t, recs, 1)
	assert.Equal(t, "s1", recs[0]["switch"])
	assert.Equal(t, "packet_out", recs[0]["kind"])
	assert.Equal(t, "flood", recs[0]["output"])

	d.Stop()
}

func TestDaemonStartFailsOnMissingCapture(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "flowgate.pid")
	configPath := writeConfig(t, dir, `
flowgate:
  log:
    level: error
  metrics:
    enabled: false
  switches:
    - name: s1
      source:
        path: `+filepath.Join(dir, "absent.pcap")+`
`)

	d, err := New(configPath, pidFile)
	require.NoError(t, err)
	err = d.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `switch "s1"`)

	_, statErr := os.Stat(pidFile)
	assert.True(t, os.IsNotExist(statErr), "failed start must clean up its PID file")
}

func TestTriggerShutdownIsNonBlocking(t *testing.T) {
	d := &Daemon{shutdownChan: make(chan struct{}, 1)}
	d.TriggerShutdown()
	d.TriggerShutdown()
	assert.Len(t, d.shutdownChan, 1)
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte("4242\n"), 0o644))
	pid, err := ReadPIDFile(good)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))
	_, err = ReadPIDFile(bad)
	assert.Error(t, err)

	_, err = ReadPIDFile(filepath.Join(dir, "absent.pid"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReloadReportsColdChanges(t *testing.T) {
	dir := t.TempDir()
	body := "flowgate:\n  log:\n    level: error\n  metrics:\n    enabled: false\n  switches:\n    - name: s1\n"
	configPath := writeConfig(t, dir, body)

	d, err := New(configPath, "")
	require.NoError(t, err)

	writeConfig(t, dir, "flowgate:\n  log:\n    level: warn\n  metrics:\n    enabled: false\n  switches:\n    - name: s1\n    - name: s2\n")
	require.NoError(t, d.Reload())
	assert.Equal(t, "warn", d.config.Log.Level, "log settings are applied in place")
	assert.Len(t, d.config.Switches, 1, "switch changes need a restart")

	writeConfig(t, dir, "flowgate:\n  log:\n    level: nope\n")
	assert.Error(t, d.Reload())
}

func TestOpenChannelOutputs(t *testing.T) {
	ch, closer, err := OpenChannel(config.OutputDiscard, "s1", nil)
	require.NoError(t, err)
	assert.NoError(t, ch.SendPacket([]byte{1}, core.Flood, 1))
	assert.NoError(t, closer.Close())

	ch, closer, err = OpenChannel(config.OutputLog, "s1", nil)
	require.NoError(t, err)
	assert.NoError(t, ch.InstallRule(core.FlowRule{}))
	assert.NoError(t, closer.Close())

	path := filepath.Join(t.TempDir(), "out.jsonl")
	ch, closer, err = OpenChannel(path, "s1", nil)
	require.NoError(t, err)
	require.NoError(t, ch.SendPacket([]byte{1, 2}, core.ToPort(2), core.NoPort))
	require.NoError(t, closer.Close())
	recs := readLines(t, path)
	require.Len(t, recs, 1)
	assert.Equal(t, "port:2", recs[0]["output"])

	_, _, err = OpenChannel(filepath.Join(t.TempDir(), "missing", "out.jsonl"), "s1", nil)
	assert.Error(t, err)
}

func TestOpenSource(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "in.pcap")
	require.NoError(t, testutil.WritePcap(capture, t0, testutil.UDP(h1, h2, "10.0.0.1", "10.0.0.2", 1, 2)))

	sw := config.SwitchConfig{Name: "s1", Source: config.SourceConfig{Type: config.SourceFile, Port: 4}}
	_, err := OpenSource(sw, "")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	src, err := OpenSource(sw, capture)
	require.NoError(t, err)
	f, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, core.Port(4), f.InPort)
	require.NoError(t, src.Close())

	_, err = OpenSource(config.SwitchConfig{Name: "s1", Source: config.SourceConfig{Type: "tap"}}, "")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestDaemonStartsKafkaExporter(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "s1.pcap")
	require.NoError(t, testutil.WritePcap(capture, t0, testutil.UDP(h1, h2, "10.0.0.1", "10.0.0.2", 1, 2)))
	configPath := writeConfig(t, dir, `
flowgate:
  log:
    level: error
  metrics:
    enabled: false
  events:
    kafka:
      enabled: true
      brokers: ["127.0.0.1:1"]
  switches:
    - name: s1
      mode: l2
      output: discard
      source:
        path: `+capture+`
`)

	d, err := New(configPath, "")
	require.NoError(t, err)
	require.NoError(t, d.Start())
	require.NotNil(t, d.exporter)
	require.NoError(t, d.Run())
}
