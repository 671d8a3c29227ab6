// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"

	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/handle"
	"github.com/bureau-foundation/process-launcher/lib/status"
)

// Ordinal selects the operation a message encodes.
type Ordinal uint32

// Launcher protocol ordinals.
const (
	OrdinalLaunch      Ordinal = 1
	OrdinalAddArgs     Ordinal = 2
	OrdinalAddEnvirons Ordinal = 3
	OrdinalAddNames    Ordinal = 4
	OrdinalAddHandles  Ordinal = 5
)

func (o Ordinal) String() string {
	switch o {
	case OrdinalLaunch:
		return "launch"
	case OrdinalAddArgs:
		return "add-args"
	case OrdinalAddEnvirons:
		return "add-environs"
	case OrdinalAddNames:
		return "add-names"
	case OrdinalAddHandles:
		return "add-handles"
	default:
		return fmt.Sprintf("ordinal(%d)", uint32(o))
	}
}

// NameInfo is one namespace entry: a path and the directory handle to
// install under it.
type NameInfo struct {
	Path      string
	Directory handle.Handle
}

// HandleInfo is one tagged handle for the new process.
type HandleInfo struct {
	ID     handle.ID
	Handle handle.Handle
}

// LaunchInfo carries the per-launch parameters of a launch request.
// Job may be invalid, meaning the launcher's own job.
type LaunchInfo struct {
	Job        handle.Handle
	Executable handle.Handle
	Name       string
}

// Close closes the handles the info still owns.
func (i *LaunchInfo) Close() {
	i.Job.Close()
	i.Executable.Close()
}

// LaunchResult is the payload of a launch response. Process and
// RootRegion are valid only when Status is OK; ErrorMessage is set
// only on failure.
type LaunchResult struct {
	Status       status.Status
	Process      handle.Handle
	RootRegion   handle.Handle
	ErrorMessage string
}

// Close closes the handles the result still owns.
func (r *LaunchResult) Close() {
	r.Process.Close()
	r.RootRegion.Close()
}

type addArgsPayload struct {
	Args []string `cbor:"args"`
}

type addEnvironsPayload struct {
	Environs []string `cbor:"environs"`
}

type nameInfoWire struct {
	Path      string `cbor:"path"`
	Directory uint32 `cbor:"directory"`
}

type addNamesPayload struct {
	Names []nameInfoWire `cbor:"names"`
}

type handleInfoWire struct {
	ID     uint32 `cbor:"id"`
	Handle uint32 `cbor:"handle"`
}

type addHandlesPayload struct {
	Handles []handleInfoWire `cbor:"handles"`
}

type launchPayload struct {
	Job        *uint32 `cbor:"job,omitempty"`
	Executable *uint32 `cbor:"executable"`
	Name       string  `cbor:"name"`
}

type launchResultPayload struct {
	Status       int32   `cbor:"status"`
	Process      *uint32 `cbor:"process,omitempty"`
	RootRegion   *uint32 `cbor:"root_region,omitempty"`
	ErrorMessage string  `cbor:"error_message,omitempty"`
}

// DecodeAddArgs decodes an add-args payload.
func (in *Incoming) DecodeAddArgs() ([]string, error) {
	var payload addArgsPayload
	if err := in.Payload(&payload); err != nil {
		in.Close()
		return nil, err
	}
	if err := in.Finish(); err != nil {
		return nil, err
	}
	return payload.Args, nil
}

// DecodeAddEnvirons decodes an add-environs payload.
func (in *Incoming) DecodeAddEnvirons() ([]string, error) {
	var payload addEnvironsPayload
	if err := in.Payload(&payload); err != nil {
		in.Close()
		return nil, err
	}
	if err := in.Finish(); err != nil {
		return nil, err
	}
	return payload.Environs, nil
}

// DecodeAddNames decodes an add-names payload. On error no handle
// survives.
func (in *Incoming) DecodeAddNames() ([]NameInfo, error) {
	var payload addNamesPayload
	if err := in.Payload(&payload); err != nil {
		in.Close()
		return nil, err
	}
	names := make([]NameInfo, 0, len(payload.Names))
	fail := func(err error) ([]NameInfo, error) {
		for index := range names {
			names[index].Directory.Close()
		}
		in.Close()
		return nil, err
	}
	for _, wire := range payload.Names {
		directory, err := in.Take(wire.Directory)
		if err != nil {
			return fail(err)
		}
		names = append(names, NameInfo{Path: wire.Path, Directory: directory})
	}
	if err := in.Finish(); err != nil {
		return fail(err)
	}
	return names, nil
}

// DecodeAddHandles decodes an add-handles payload. On error no handle
// survives.
func (in *Incoming) DecodeAddHandles() ([]HandleInfo, error) {
	var payload addHandlesPayload
	if err := in.Payload(&payload); err != nil {
		in.Close()
		return nil, err
	}
	infos := make([]HandleInfo, 0, len(payload.Handles))
	fail := func(err error) ([]HandleInfo, error) {
		for index := range infos {
			infos[index].Handle.Close()
		}
		in.Close()
		return nil, err
	}
	for _, wire := range payload.Handles {
		h, err := in.Take(wire.Handle)
		if err != nil {
			return fail(err)
		}
		infos = append(infos, HandleInfo{ID: handle.ID(wire.ID), Handle: h})
	}
	if err := in.Finish(); err != nil {
		return fail(err)
	}
	return infos, nil
}

// DecodeLaunch decodes a launch payload. On error no handle survives.
func (in *Incoming) DecodeLaunch() (LaunchInfo, error) {
	var payload launchPayload
	if err := in.Payload(&payload); err != nil {
		in.Close()
		return LaunchInfo{}, err
	}
	var info LaunchInfo
	fail := func(err error) (LaunchInfo, error) {
		info.Close()
		in.Close()
		return LaunchInfo{}, err
	}
	if payload.Executable == nil {
		return fail(status.Errorf(status.ErrInvalidArgs, "launch: missing executable"))
	}
	var err error
	if info.Job, err = in.TakeOptional(payload.Job); err != nil {
		return fail(err)
	}
	if info.Executable, err = in.Take(*payload.Executable); err != nil {
		return fail(err)
	}
	info.Name = payload.Name
	if err := in.Finish(); err != nil {
		return fail(err)
	}
	return info, nil
}

// EncodeAddArgs builds an add-args request.
func EncodeAddArgs(txid uint32, args []string) (channel.Message, error) {
	return Encode(Header{Txid: txid, Ordinal: OrdinalAddArgs}, addArgsPayload{Args: args}, nil)
}

// EncodeAddEnvirons builds an add-environs request.
func EncodeAddEnvirons(txid uint32, environs []string) (channel.Message, error) {
	return Encode(Header{Txid: txid, Ordinal: OrdinalAddEnvirons}, addEnvironsPayload{Environs: environs}, nil)
}

// EncodeAddNames builds an add-names request. The directory handles
// move into the message.
func EncodeAddNames(txid uint32, names []NameInfo) (channel.Message, error) {
	var list HandleList
	payload := addNamesPayload{Names: make([]nameInfoWire, 0, len(names))}
	for index := range names {
		payload.Names = append(payload.Names, nameInfoWire{
			Path:      names[index].Path,
			Directory: list.Add(names[index].Directory.Take()),
		})
	}
	return Encode(Header{Txid: txid, Ordinal: OrdinalAddNames}, payload, &list)
}

// EncodeAddHandles builds an add-handles request. The handles move into
// the message.
func EncodeAddHandles(txid uint32, handles []HandleInfo) (channel.Message, error) {
	var list HandleList
	payload := addHandlesPayload{Handles: make([]handleInfoWire, 0, len(handles))}
	for index := range handles {
		payload.Handles = append(payload.Handles, handleInfoWire{
			ID:     uint32(handles[index].ID),
			Handle: list.Add(handles[index].Handle.Take()),
		})
	}
	return Encode(Header{Txid: txid, Ordinal: OrdinalAddHandles}, payload, &list)
}

// EncodeLaunch builds a launch request. The job and executable handles
// move into the message.
func EncodeLaunch(txid uint32, info LaunchInfo) (channel.Message, error) {
	var list HandleList
	payload := launchPayload{
		Job:  list.AddOptional(info.Job.Take()),
		Name: info.Name,
	}
	executable := list.Add(info.Executable.Take())
	payload.Executable = &executable
	return Encode(Header{Txid: txid, Ordinal: OrdinalLaunch}, payload, &list)
}

// EncodeLaunchResponse builds the response to the launch request with
// the given header. The result's handles move into the message.
func EncodeLaunchResponse(header Header, result *LaunchResult) (channel.Message, error) {
	var list HandleList
	payload := launchResultPayload{
		Status:       int32(result.Status),
		Process:      list.AddOptional(result.Process.Take()),
		RootRegion:   list.AddOptional(result.RootRegion.Take()),
		ErrorMessage: result.ErrorMessage,
	}
	return Encode(header, payload, &list)
}

// DecodeLaunchResponse decodes a launch response on the client side.
func DecodeLaunchResponse(message channel.Message) (Header, LaunchResult, error) {
	in, err := DecodeHeader(message)
	if err != nil {
		return Header{}, LaunchResult{}, err
	}
	if in.Header.Ordinal != OrdinalLaunch {
		in.Close()
		return in.Header, LaunchResult{}, status.Errorf(status.ErrInvalidArgs, "unexpected %s in launch response", in.Header.Ordinal)
	}

	var payload launchResultPayload
	if err := in.Payload(&payload); err != nil {
		in.Close()
		return in.Header, LaunchResult{}, err
	}
	result := LaunchResult{
		Status:       status.Status(payload.Status),
		ErrorMessage: payload.ErrorMessage,
	}
	fail := func(err error) (Header, LaunchResult, error) {
		result.Close()
		in.Close()
		return in.Header, LaunchResult{}, err
	}
	if result.Process, err = in.TakeOptional(payload.Process); err != nil {
		return fail(err)
	}
	if result.RootRegion, err = in.TakeOptional(payload.RootRegion); err != nil {
		return fail(err)
	}
	if err := in.Finish(); err != nil {
		return fail(err)
	}
	return in.Header, result, nil
}
