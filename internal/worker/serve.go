// Package worker is the discovery side of the IPC channel. It runs inside the
// isolated worker process so that a plugin crashing or hanging while being
// probed only takes the worker down.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ipsix/plugscan/internal/ipc"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/plugin"
)

// Serve greets the coordinator and answers scan requests until it receives
// quit or its input closes. Each request gets exactly one result.
func Serve(ctx context.Context, in io.Reader, out io.Writer, coordinatorID string, prober Prober, logger *logging.Logger) error {
	writer := ipc.NewWriter(out)
	reader := ipc.NewReader(in)

	if err := writer.Write(ipc.Envelope{Coordinator: coordinatorID, Kind: ipc.KindHello}); err != nil {
		return err
	}

	for {
		env, err := reader.Next()
		if err != nil {
			var decodeErr *ipc.DecodeError
			if errors.As(err, &decodeErr) {
				logger.Warn("ignoring malformed request", logging.Field{Key: "error", Value: err})
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}
		if env.Coordinator != coordinatorID {
			logger.Warn("ignoring request for another coordinator", logging.Field{Key: "from", Value: env.Coordinator})
			continue
		}

		switch env.Kind {
		case ipc.KindQuit:
			return nil
		case ipc.KindScan:
			payload := handle(ctx, prober, env, logger)
			if err := writer.Write(ipc.Envelope{
				Coordinator: coordinatorID,
				ID:          env.ID,
				Kind:        ipc.KindResult,
				Payload:     payload,
			}); err != nil {
				return err
			}
		default:
			logger.Debug("ignoring request", logging.Field{Key: "kind", Value: string(env.Kind)})
		}
	}
}

func handle(ctx context.Context, prober Prober, env ipc.Envelope, logger *logging.Logger) (payload string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("probe panicked", logging.Field{Key: "target", Value: env.Target}, logging.Field{Key: "panic", Value: fmt.Sprint(r)})
			payload = ipc.EncodeError(fmt.Errorf("probe panicked: %v", r))
		}
	}()

	protocol, err := plugin.ParseProtocol(env.Protocol)
	if err != nil {
		return ipc.EncodeError(err)
	}
	descs, err := prober.Probe(ctx, protocol, env.Target)
	if err != nil {
		logger.Debug("probe failed", logging.Field{Key: "target", Value: env.Target}, logging.Field{Key: "error", Value: err})
		return ipc.EncodeError(err)
	}
	for i := range descs {
		if descs[i].Path == "" {
			descs[i].Path = env.Target
		}
	}
	logger.Debug("probe finished", logging.Field{Key: "target", Value: env.Target}, logging.Field{Key: "plugins", Value: len(descs)})
	return ipc.EncodePayload(descs)
}
