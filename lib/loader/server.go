// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/ipc"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// Resolver returns an open handle for the object called name. The
// error's status (see status.FromError) is sent to the caller.
type Resolver func(name string) (handle.Handle, error)

// Server answers load-object requests.
type Server struct {
	Resolver Resolver
	Logger   *slog.Logger
}

// Serve answers requests on ch until the peer closes (returns nil),
// ctx is done, or a protocol error occurs. It does not close ch.
func (s *Server) Serve(ctx context.Context, ch *channel.Channel) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for {
		message, err := ch.ReadBlocking(ctx)
		if errors.Is(err, status.ErrPeerClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		in, err := ipc.DecodeHeader(message)
		if err != nil {
			return err
		}
		if in.Header.Ordinal != OrdinalLoadObject {
			in.Close()
			return status.Errorf(status.ErrNotSupported, "loader: unknown ordinal %d", uint32(in.Header.Ordinal))
		}
		var request loadObjectRequest
		if err := in.Payload(&request); err != nil {
			in.Close()
			return err
		}
		if err := in.Finish(); err != nil {
			return err
		}

		object, resolveErr := s.Resolver(request.Name)
		code := status.FromError(resolveErr)
		if resolveErr != nil {
			object.Close()
			logger.Info("load-object failed", "name", request.Name, "status", code.String(), "error", resolveErr)
		} else {
			logger.Debug("load-object", "name", request.Name)
		}

		response, err := encodeResponse(in.Header, code, object)
		if err != nil {
			return err
		}
		if err := ch.Write(response); err != nil {
			return fmt.Errorf("writing load-object response: %w", err)
		}
	}
}
