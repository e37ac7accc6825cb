// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/relay"
)

// acceptIDStep matches the original's fetch_add(10): ids are vended in
// increments of 10, leaving id-space room for the caller's own bookkeeping.
const acceptIDStep = 10

// acceptTable maps accept ids to not-yet-attached streams, the Go
// equivalent of the original's DashMap<u64, TcpStream> plus AtomicU64
// counter. sync.Map fits the access pattern exactly: insert from the
// accept loop, remove-once from the accept handler, no iteration.
type acceptTable struct {
	streams sync.Map // uint64 -> raphnet.TCPStream
	next    atomic.Uint64
}

func (t *acceptTable) insert(stream raphnet.TCPStream) uint64 {
	id := t.next.Add(acceptIDStep) - acceptIDStep
	t.streams.Store(id, stream)
	return id
}

// take removes and returns the stream registered under id. A second call
// with the same id reports ok=false, matching DashMap::remove's one-shot
// semantics (spec: "a second attempt fails other(id not found)").
func (t *acceptTable) take(id uint64) (raphnet.TCPStream, bool) {
	v, ok := t.streams.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(raphnet.TCPStream), true
}

// Server runs the tunnel protocol against net, spawning one goroutine per
// incoming channel (mirrors RemoteServer::start/process_channel).
type Server struct {
	Net      raphnet.Net
	Protocol Protocol
}

// NewServer returns a [*Server] exposing net through protocol.
func NewServer(protocol Protocol, net raphnet.Net) *Server {
	return &Server{Net: net, Protocol: protocol}
}

var _ interface {
	Run(ctx context.Context) error
} = (*Server)(nil)

// Run accepts channels from the protocol until ctx is canceled or the
// protocol reports an error, processing each channel concurrently.
func (s *Server) Run(ctx context.Context) error {
	table := &acceptTable{}
	for {
		channel, err := s.Protocol.NextChannel(ctx)
		if err != nil {
			return err
		}
		go s.processChannel(ctx, channel, table)
	}
}

func (s *Server) processChannel(ctx context.Context, channel *Channel, table *acceptTable) {
	defer channel.Close()

	req, err := channel.RecvRequest()
	if err != nil {
		return
	}

	switch req.Kind {
	case ReqTCPConnect:
		s.handleTCPConnect(ctx, channel, req)
	case ReqTCPBind:
		s.handleTCPBind(ctx, channel, req, table)
	case ReqTCPAccept:
		s.handleTCPAccept(ctx, channel, req, table)
	}
}

func (s *Server) handleTCPConnect(ctx context.Context, channel *Channel, req CommandRequest) {
	addr, err := raphnet.ParseAddress(req.Address)
	if err != nil {
		return
	}
	rctx := raphnet.NewContextFrom(ctx)
	target, err := s.Net.TCPConnect(rctx, addr)
	if err != nil {
		return
	}
	defer target.Close()
	relay.ConnectTCP(ctx, target, channel.Stream())
}

func (s *Server) handleTCPBind(ctx context.Context, channel *Channel, req CommandRequest, table *acceptTable) {
	addr, err := raphnet.ParseAddress(req.Address)
	if err != nil {
		return
	}
	rctx := raphnet.NewContextFrom(ctx)
	listener, err := s.Net.TCPBind(rctx, addr)
	if err != nil {
		return
	}
	defer listener.Close()

	if err := channel.SendResponse(CommandResponse{Kind: RespBindAddr, Addr: listener.LocalAddr().String()}); err != nil {
		return
	}

	for {
		stream, peer, err := listener.Accept(rctx)
		if err != nil {
			return
		}
		id := table.insert(stream)
		if err := channel.SendResponse(CommandResponse{Kind: RespAccept, ID: id, Addr: peer.String()}); err != nil {
			stream.Close()
			return
		}
	}
}

// handleTCPAccept attaches channel to the stream registered under req.ID. A
// second accept attempt on the same id finds nothing in the table (it was
// already taken) and the channel is simply closed without a splice,
// matching the original's "id not found" failure.
func (s *Server) handleTCPAccept(ctx context.Context, channel *Channel, req CommandRequest, table *acceptTable) {
	stream, ok := table.take(req.ID)
	if !ok {
		return
	}
	defer stream.Close()
	relay.ConnectTCP(ctx, stream, channel.Stream())
}
