// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/ipc"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// DefaultMaxErrorMessage caps the error message of a failed launch
// response, in bytes.
const DefaultMaxErrorMessage = 4096

// MaxErrorMessageLimit is the largest error message cap a Server
// accepts. The rest of a channel message is left for the response
// envelope, so a failed launch always fits in one write.
const MaxErrorMessageLimit = channel.MaxMessageBytes - 1024

const (
	missingLoaderMessage = "need loader service to load PT_INTERP"
	rootRegionMessage    = "failed to get root region"
)

// launch drives one process creation from state and the request's
// parameters. Every handle in info and state is consumed: handles
// moved into the context belong to it, and the job is closed here.
// State's strings are left for the caller to reset.
func launch(factory Factory, state *State, info *ipc.LaunchInfo, maxErrorMessage int) ipc.LaunchResult {
	defer info.Job.Close()

	creation := factory.NewContext(&info.Job, info.Name)
	if !state.loader.Valid() {
		creation.Abort(status.ErrInvalidArgs, missingLoaderMessage)
	} else {
		previous := creation.UseLoaderService(state.loader.Take())
		previous.Close()
	}

	creation.LoadExecutable(info.Executable.Take())
	creation.SetArgs(state.args)
	environ := make([]string, 0, len(state.environs)+1)
	environ = append(environ, state.environs...)
	creation.SetEnviron(append(environ, ""))
	creation.SetNametable(state.nametable)
	ids, handles := state.handles.Take()
	creation.AddHandles(ids, handles)

	// Finalize may invalidate the context's own root region handle.
	rootRegion, err := creation.RootRegion().Duplicate()
	if err != nil {
		creation.Abort(status.FromError(err), rootRegionMessage)
	}

	process, err := creation.Finalize()
	if err != nil {
		rootRegion.Close()
		process.Close()
		code := status.FromError(err)
		if code == status.OK {
			code = status.ErrInternal
		}
		return ipc.LaunchResult{
			Status:       code,
			ErrorMessage: truncateMessage(status.Message(err), maxErrorMessage),
		}
	}
	return ipc.LaunchResult{
		Status:     status.OK,
		Process:    process,
		RootRegion: rootRegion,
	}
}

// truncateMessage shortens message to at most limit bytes without
// splitting a UTF-8 sequence.
func truncateMessage(message string, limit int) string {
	if limit <= 0 || len(message) <= limit {
		return message
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}

// handleLaunch runs the launch operation for one request and writes
// the response. Launch failures are reported in the response; only
// encoding and transport failures are returned.
func (s *Session) handleLaunch(header ipc.Header, info ipc.LaunchInfo) error {
	launchID := uuid.NewString()
	counts := s.state.Counts()
	started := s.server.clock.Now()

	result := launch(s.server.factory, &s.state, &info, s.server.maxErrorMessage)
	response, err := ipc.EncodeLaunchResponse(header, &result)
	s.state.Reset()

	elapsed := s.server.clock.Since(started)
	attributes := []any{
		"launch_id", launchID,
		"txid", header.Txid,
		"name", info.Name,
		"args", counts.Args,
		"environs", counts.Environs,
		"names", counts.Names,
		"handles", counts.Handles,
		"status", result.Status.String(),
		"duration", elapsed,
	}
	if result.Status == status.OK {
		s.logger.Info("launched process", attributes...)
	} else {
		s.logger.Warn("launch failed", append(attributes, "error", result.ErrorMessage)...)
	}

	if err != nil {
		return fmt.Errorf("encoding launch response: %w", err)
	}
	if err := s.channel.Write(response); err != nil {
		return fmt.Errorf("writing launch response: %w", err)
	}
	return nil
}
