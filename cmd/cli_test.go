package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blazeload/blaze/internal/config"
	"github.com/blazeload/blaze/internal/core"
	"github.com/blazeload/blaze/internal/engine/types"
)

// setupAppDir points the app directory at a temp dir.
func setupAppDir(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tempDir)
	t.Setenv("HOME", tempDir)
	t.Setenv(config.EnvToken, "")
	require.NoError(t, config.EnsureDirs())
	return tempDir
}

func TestActivePortFile(t *testing.T) {
	setupAppDir(t)

	assert.Zero(t, readActivePort())
	saveActivePort(4321)
	assert.Equal(t, 4321, readActivePort())
	removeActivePort()
	assert.Zero(t, readActivePort())
}

func TestResolveAPIConnection(t *testing.T) {
	setupAppDir(t)

	_, _, err := resolveAPIConnection("")
	assert.ErrorIs(t, err, errNotRunning)

	saveActivePort(1777)
	baseURL, token, err := resolveAPIConnection("")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:1777", baseURL)
	assert.Equal(t, ensureAuthToken(), token, "local daemon token is reused")

	_, _, err = resolveAPIConnection("nas.lan:1777")
	assert.Error(t, err, "remote host requires an explicit token")

	t.Setenv(config.EnvToken, "remote-secret")
	baseURL, token, err = resolveAPIConnection("https://nas.lan:1777")
	require.NoError(t, err)
	assert.Equal(t, "https://nas.lan:1777", baseURL)
	assert.Equal(t, "remote-secret", token)
}

func TestEnsureAuthToken_Stable(t *testing.T) {
	dir := setupAppDir(t)

	first := ensureAuthToken()
	require.NotEmpty(t, first)
	assert.Equal(t, first, ensureAuthToken())

	info, err := os.Stat(filepath.Join(dir, "blaze", "token"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestReadURLsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nhttps://a.example/1\n\n  https://b.example/2  \n"), 0o644))

	urls, err := readURLsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/1", "https://b.example/2"}, urls)

	_, err = readURLsFromFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestResolveDownloadID(t *testing.T) {
	svc := newStubService()
	svc.snap = core.Snapshot{Buckets: core.Buckets{
		Active:  []types.Job{{ID: "aabbccdd-1111"}},
		Queued:  []types.Job{{ID: "aabbeeff-2222"}},
		History: []types.Job{{ID: "99887766-3333"}},
	}}

	id, err := resolveDownloadID(svc, "aabbcc")
	require.NoError(t, err)
	assert.Equal(t, "aabbccdd-1111", id)

	id, err = resolveDownloadID(svc, "9988")
	require.NoError(t, err)
	assert.Equal(t, "99887766-3333", id)

	_, err = resolveDownloadID(svc, "aabb")
	assert.ErrorContains(t, err, "ambiguous")

	id, err = resolveDownloadID(svc, "zz")
	require.NoError(t, err)
	assert.Equal(t, "zz", id)
}

func TestLock_SingleInstance(t *testing.T) {
	setupAppDir(t)

	ok, err := AcquireLock()
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = ReleaseLock() })

	// Re-acquiring from the holder is a no-op.
	ok, err = AcquireLock()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ReleaseLock())
	assert.NoError(t, ReleaseLock())
}

func TestInitializeGlobalState_EnvOverrides(t *testing.T) {
	dir := setupAppDir(t)
	t.Chdir(dir)
	t.Setenv(config.EnvMaxConcurrent, "5")
	t.Setenv(config.EnvRPCURL, "http://engine:6800/jsonrpc")

	settings, err := initializeGlobalState()
	require.NoError(t, err)
	assert.Equal(t, 5, settings.Queue.MaxConcurrentDownloads)
	assert.Equal(t, "http://engine:6800/jsonrpc", settings.Backend.RPCURL)

	t.Setenv(config.EnvMaxConcurrent, "zero")
	_, err = initializeGlobalState()
	assert.Error(t, err)
}

func TestSubcommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"add", "ls", "pause", "resume", "stop", "clear"} {
		assert.Contains(t, names, want)
	}
	assert.Contains(t, lsCmd.Aliases, "list")
	assert.NotNil(t, pauseCmd.Flags().Lookup("all"))
	assert.NotNil(t, stopCmd.Flags().Lookup("all"))
	assert.Equal(t, strconv.Itoa(0), rootCmd.Flags().Lookup("port").DefValue)
}

func TestAwaitExit_LoopFailureEndsDaemon(t *testing.T) {
	serveErr := make(chan error, 1)
	runDone := make(chan error, 1)
	runDone <- errors.New("load persisted jobs: disk gone")

	loopErr, loopDone := awaitExit(context.Background(), serveErr, runDone)
	assert.True(t, loopDone)
	assert.ErrorContains(t, loopErr, "disk gone")
}

func TestAwaitExit_LoopReturningEarlyIsAnError(t *testing.T) {
	runDone := make(chan error, 1)
	runDone <- nil

	loopErr, loopDone := awaitExit(context.Background(), make(chan error), runDone)
	assert.True(t, loopDone)
	assert.Error(t, loopErr)
}

func TestAwaitExit_SignalLeavesLoopRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loopErr, loopDone := awaitExit(ctx, make(chan error), make(chan error))
	assert.False(t, loopDone)
	assert.NoError(t, loopErr)
}

func TestAwaitExit_ServeFailure(t *testing.T) {
	serveErr := make(chan error, 1)
	serveErr <- errors.New("accept: broken")

	loopErr, loopDone := awaitExit(context.Background(), serveErr, make(chan error))
	assert.False(t, loopDone)
	assert.NoError(t, loopErr)
}

func TestPrintSnapshot_Speeds(t *testing.T) {
	snap := core.Snapshot{
		Buckets: core.Buckets{
			Active: []types.Job{{ID: "0123456789abcdef", Filename: "a.iso", State: types.StateDownloading, Speed: 1536 * 1024}},
			Queued: []types.Job{{ID: "fedcba9876543210", Filename: "b.iso", State: types.StateWaiting}},
		},
		TotalSpeed: 1536 * 1024,
		Connected:  true,
	}

	var out bytes.Buffer
	printSnapshot(&out, snap)

	assert.Contains(t, out.String(), "Engine connected, 1 active, 1 queued, 1.5 MB/s")
	assert.Regexp(t, `01234567\s+downloading\s+\S+\s+1\.5 MB/s\s+a\.iso`, out.String())
	assert.Regexp(t, `fedcba98\s+waiting\s+\S+\s+-\s+b\.iso`, out.String())
}
