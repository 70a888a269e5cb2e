package coordinator

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/plugscan/internal/ipc"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/plugin"
)

// rawLauncher hands the test both ends of the pipes so it can play a
// misbehaving worker.
type rawLauncher struct {
	requests *bufio.Reader
	replies  io.WriteCloser
}

func (l *rawLauncher) Start(_ context.Context, _ Command) (*Process, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	l.requests = bufio.NewReader(inR)
	l.replies = outW
	return &Process{
		Stdin:  inW,
		Stdout: outR,
		Kill: func() error {
			inR.Close()
			return outW.Close()
		},
		Wait: func() error { return nil },
	}, nil
}

func TestStaleAndMalformedMessagesAreIgnored(t *testing.T) {
	l := &rawLauncher{}
	c := New(Options{Launcher: l, Logger: logging.Nop()})
	require.NoError(t, c.Launch(context.Background(), "worker", "lv2"))

	sent := make(chan error, 1)
	go func() { sent <- c.SendRequest(ipc.ScanRequest{Protocol: plugin.ProtocolLV2, Target: "/a.lv2"}) }()
	line, err := l.requests.ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, <-sent)
	assert.Contains(t, line, `"id":1`)

	w := ipc.NewWriter(l.replies)
	payload := ipc.EncodePayload([]plugin.Descriptor{{Name: "Right"}})
	_, err = io.WriteString(l.replies, "garbage that is not json\n")
	require.NoError(t, err)
	require.NoError(t, w.Write(ipc.Envelope{Coordinator: "someone-else", ID: 1, Kind: ipc.KindResult, Payload: payload}))
	require.NoError(t, w.Write(ipc.Envelope{Coordinator: c.ID(), ID: 99, Kind: ipc.KindResult, Payload: payload}))
	require.NoError(t, w.Write(ipc.Envelope{Coordinator: c.ID(), ID: 1, Kind: ipc.KindResult, Payload: "carla-discovery::garbage"}))

	resp := c.GetResponse(2 * time.Second)
	require.Equal(t, ipc.StateGotResult, resp.State)
	assert.Empty(t, resp.Descriptors, "unparseable payload means no plugins")

	// A late duplicate for the settled request is dropped.
	require.NoError(t, w.Write(ipc.Envelope{Coordinator: c.ID(), ID: 1, Kind: ipc.KindResult, Payload: payload}))
	assert.Equal(t, ipc.StateTimeout, c.GetResponse(50*time.Millisecond).State)

	require.NoError(t, l.replies.Close())
	assert.Equal(t, ipc.StateConnectionLost, c.GetResponse(2*time.Second).State)
}

func TestHandleConnectionLostIsIdempotent(t *testing.T) {
	c := New(Options{Logger: logging.Nop()})
	c.handleConnectionLost()
	c.handleConnectionLost()
	assert.True(t, c.ConnectionLost())
}

func TestVerifyExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker")
	require.NoError(t, os.WriteFile(path, []byte("binary"), 0o755))
	sum := fmt.Sprintf("%x", sha256.Sum256([]byte("binary")))

	assert.NoError(t, VerifyExecutable(path, ""))
	assert.NoError(t, VerifyExecutable(path, sum))
	assert.Error(t, VerifyExecutable(path, "deadbeef"))
}

func TestResolveWorkerPath(t *testing.T) {
	t.Setenv(WorkerPathEnv, "/opt/plugscan/worker")
	path, err := ResolveWorkerPath("/etc/configured")
	require.NoError(t, err)
	assert.Equal(t, "/opt/plugscan/worker", path)

	t.Setenv(WorkerPathEnv, "")
	path, err = ResolveWorkerPath("/etc/configured")
	require.NoError(t, err)
	assert.Equal(t, "/etc/configured", path)
}
