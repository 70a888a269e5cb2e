package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/plugscan/internal/ipc"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/plugin"
)

func requests(t *testing.T, envs ...ipc.Envelope) io.Reader {
	t.Helper()
	buf := &bytes.Buffer{}
	w := ipc.NewWriter(buf)
	for _, env := range envs {
		require.NoError(t, w.Write(env))
	}
	return buf
}

func replies(t *testing.T, out *bytes.Buffer) []ipc.Envelope {
	t.Helper()
	var envs []ipc.Envelope
	r := ipc.NewReader(out)
	for {
		env, err := r.Next()
		if errors.Is(err, io.EOF) {
			return envs
		}
		require.NoError(t, err)
		envs = append(envs, env)
	}
}

func TestServeAnswersEachRequest(t *testing.T) {
	prober := ProberFunc(func(_ context.Context, protocol plugin.Protocol, target string) ([]plugin.Descriptor, error) {
		switch target {
		case "/p/ok.jsfx":
			return []plugin.Descriptor{{Name: "Ok", Protocol: protocol}}, nil
		case "/p/boom.jsfx":
			panic("segfault in plugin")
		default:
			return nil, errors.New("unreadable")
		}
	})

	in := requests(t,
		ipc.Envelope{Coordinator: "c1", ID: 1, Kind: ipc.KindScan, Protocol: "jsfx", Target: "/p/ok.jsfx"},
		ipc.Envelope{Coordinator: "other", ID: 2, Kind: ipc.KindScan, Protocol: "jsfx", Target: "/p/ok.jsfx"},
		ipc.Envelope{Coordinator: "c1", ID: 3, Kind: ipc.KindScan, Protocol: "jsfx", Target: "/p/boom.jsfx"},
		ipc.Envelope{Coordinator: "c1", ID: 4, Kind: ipc.KindScan, Protocol: "jsfx", Target: "/p/bad.jsfx"},
		ipc.Envelope{Coordinator: "c1", Kind: ipc.KindQuit},
		ipc.Envelope{Coordinator: "c1", ID: 5, Kind: ipc.KindScan, Protocol: "jsfx", Target: "/p/ok.jsfx"},
	)
	out := &bytes.Buffer{}
	require.NoError(t, Serve(context.Background(), in, out, "c1", prober, logging.Nop()))

	envs := replies(t, out)
	require.Len(t, envs, 4)
	assert.Equal(t, ipc.KindHello, envs[0].Kind)

	assert.Equal(t, uint64(1), envs[1].ID)
	descs, err := ipc.ParsePayload(envs[1].Payload)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "Ok", descs[0].Name)
	assert.Equal(t, "/p/ok.jsfx", descs[0].Path)

	assert.Equal(t, uint64(3), envs[2].ID)
	_, err = ipc.ParsePayload(envs[2].Payload)
	var werr *ipc.WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Contains(t, werr.Message, "panicked")

	assert.Equal(t, uint64(4), envs[3].ID)
	_, err = ipc.ParsePayload(envs[3].Payload)
	require.ErrorAs(t, err, &werr)
}

func TestServeSkipsMalformedLinesAndStopsAtEOF(t *testing.T) {
	in := io.MultiReader(
		strings.NewReader("{{{ not json\n"),
		requests(t, ipc.Envelope{Coordinator: "c1", ID: 9, Kind: ipc.KindScan, Protocol: "nope", Target: "x"}),
	)
	out := &bytes.Buffer{}
	require.NoError(t, Serve(context.Background(), in, out, "c1", NewMux(), logging.Nop()))

	envs := replies(t, out)
	require.Len(t, envs, 2)
	assert.Equal(t, uint64(9), envs[1].ID)
	_, err := ipc.ParsePayload(envs[1].Payload)
	assert.Error(t, err)
}

func TestMuxRejectsUnknownProtocol(t *testing.T) {
	_, err := NewMux().Probe(context.Background(), plugin.ProtocolVST3, "/x.vst3")
	assert.Error(t, err)

	_, err = NewDefaultMux(Options{}).Probe(context.Background(), plugin.ProtocolVST3, "/x.vst3")
	assert.ErrorIs(t, err, ErrNoDiscoveryTool)
}
