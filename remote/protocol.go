// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"context"

	"github.com/bassosimone/raphnet"
)

// RequestKind tags a [CommandRequest]'s variant.
type RequestKind int

const (
	ReqTCPConnect RequestKind = iota
	ReqTCPBind
	ReqTCPAccept
)

// CommandRequest is the control message a client sends at the start of a
// channel, mirroring the original's CommandRequest enum (TcpConnect,
// TcpBind, TcpAccept).
type CommandRequest struct {
	Kind    RequestKind
	Address string // set for ReqTCPConnect and ReqTCPBind
	ID      uint64 // set for ReqTCPAccept
}

// ResponseKind tags a [CommandResponse]'s variant.
type ResponseKind int

const (
	RespBindAddr ResponseKind = iota
	RespAccept
)

// CommandResponse is the control message a server sends back, mirroring the
// original's CommandResponse enum (BindAddr, Accept).
type CommandResponse struct {
	Kind ResponseKind
	Addr string // set for RespBindAddr and RespAccept
	ID   uint64 // set for RespAccept
}

// Channel is one logical tunnel channel: a raw stream plus the length-
// prefixed gob framing used to exchange control messages over it before the
// stream is handed off for splicing (the original's Channel::into_inner).
type Channel struct {
	stream raphnet.TCPStream
}

// NewChannel wraps stream as a [*Channel].
func NewChannel(stream raphnet.TCPStream) *Channel {
	return &Channel{stream: stream}
}

// RecvRequest reads one [CommandRequest] from the channel.
func (c *Channel) RecvRequest() (CommandRequest, error) {
	var req CommandRequest
	if err := readFrame(c.stream, &req); err != nil {
		return CommandRequest{}, err
	}
	return req, nil
}

// SendResponse writes one [CommandResponse] to the channel.
func (c *Channel) SendResponse(resp CommandResponse) error {
	return writeFrame(c.stream, resp)
}

// SendRequest writes one [CommandRequest] to the channel.
func (c *Channel) SendRequest(req CommandRequest) error {
	return writeFrame(c.stream, req)
}

// RecvResponse reads one [CommandResponse] from the channel.
func (c *Channel) RecvResponse() (CommandResponse, error) {
	var resp CommandResponse
	if err := readFrame(c.stream, &resp); err != nil {
		return CommandResponse{}, err
	}
	return resp, nil
}

// Stream returns the channel's underlying stream, for splicing once the
// control exchange is done.
func (c *Channel) Stream() raphnet.TCPStream {
	return c.stream
}

// Close closes the channel's underlying stream.
func (c *Channel) Close() error {
	return c.stream.Close()
}

// Protocol yields the next incoming [*Channel], the collaborator a
// [*Server] uses to learn about new tunnel requests. A concrete transport
// (e.g. accepting new connections on a control listener) implements this;
// Server itself is transport-agnostic.
type Protocol interface {
	NextChannel(ctx context.Context) (*Channel, error)
}
