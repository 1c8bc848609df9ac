package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient implements ProcessClient.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Signal(pid int, sig os.Signal) error {
	args := m.Called(pid, sig)
	return args.Error(0)
}

func writePID(t *testing.T, pid string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowgate.pid")
	require.NoError(t, os.WriteFile(path, []byte(pid+"\n"), 0o644))
	return path
}

func TestRunStop_Success(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Signal", 4242, syscall.SIGTERM).Return(nil)

	var buf bytes.Buffer
	err := runStop(mockClient, writePID(t, "4242"), &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "Sent SIGTERM to daemon (pid 4242)")
	mockClient.AssertExpectations(t)
}

func TestRunReload_Success(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Signal", 4242, syscall.SIGHUP).Return(nil)

	var buf bytes.Buffer
	err := runReload(mockClient, writePID(t, "4242"), &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "Sent SIGHUP to daemon (pid 4242)")
	mockClient.AssertExpectations(t)
}

func TestRunReload_Failure(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Signal", 4242, mock.Anything).Return(errors.New("no such process"))

	var buf bytes.Buffer
	err := runReload(mockClient, writePID(t, "4242"), &buf)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reload")
	assert.Contains(t, err.Error(), "no such process")
	assert.Empty(t, buf.String())
	mockClient.AssertExpectations(t)
}

func TestRunStop_NotRunning(t *testing.T) {
	mockClient := new(MockClient)

	var buf bytes.Buffer
	err := runStop(mockClient, filepath.Join(t.TempDir(), "absent.pid"), &buf)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "daemon is not running")
	mockClient.AssertNotCalled(t, "Signal", mock.Anything, mock.Anything)
}

func TestRunStop_CorruptPIDFile(t *testing.T) {
	mockClient := new(MockClient)

	var buf bytes.Buffer
	err := runStop(mockClient, writePID(t, "garbage"), &buf)

	assert.Error(t, err)
	mockClient.AssertNotCalled(t, "Signal", mock.Anything, mock.Anything)
}

func TestResolvePIDFile(t *testing.T) {
	oldPID, oldConfig := pidFile, configFile
	t.Cleanup(func() { pidFile, configFile = oldPID, oldConfig })

	pidFile = "/run/flag.pid"
	path, err := resolvePIDFile()
	require.NoError(t, err)
	assert.Equal(t, "/run/flag.pid", path)

	dir := t.TempDir()
	pidFile = ""
	configFile = filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(configFile, []byte("flowgate:\n  control:\n    pid_file: /run/cfg.pid\n  switches:\n    - name: s1\n"), 0o644))
	path, err = resolvePIDFile()
	require.NoError(t, err)
	assert.Equal(t, "/run/cfg.pid", path)

	require.NoError(t, os.WriteFile(configFile, []byte("flowgate:\n  switches:\n    - name: s1\n"), 0o644))
	_, err = resolvePIDFile()
	assert.Error(t, err)
}
