// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"context"
	"fmt"

	"github.com/bassosimone/raphnet"
)

// ChannelOpener opens a new outbound [*Channel] toward a tunnel server, the
// client-side counterpart of [Protocol].
type ChannelOpener interface {
	OpenChannel(ctx context.Context) (*Channel, error)
}

// AcceptNotice is one accept event delivered over a TcpBind channel: an id
// to attach to via [*Client.TCPAccept], and the peer address that
// connected.
type AcceptNotice struct {
	ID   uint64
	Addr string
}

// Client issues tunnel requests against a remote [*Server] through opener.
type Client struct {
	Opener ChannelOpener
}

// NewClient returns a [*Client] using opener to establish channels.
func NewClient(opener ChannelOpener) *Client {
	return &Client{Opener: opener}
}

// TCPConnect opens a channel, requests a remote connect to addr, and
// returns the channel's stream, ready to splice with a local peer.
func (c *Client) TCPConnect(ctx context.Context, addr raphnet.Address) (raphnet.TCPStream, error) {
	channel, err := c.Opener.OpenChannel(ctx)
	if err != nil {
		return nil, err
	}
	if err := channel.SendRequest(CommandRequest{Kind: ReqTCPConnect, Address: addr.String()}); err != nil {
		channel.Close()
		return nil, err
	}
	return channel.Stream(), nil
}

// TCPBind opens a channel, requests a remote bind on addr, and returns the
// address the remote side bound to plus a channel of accept notices. The
// returned channel is closed when the underlying stream reports an error
// (e.g. the remote listener closed).
func (c *Client) TCPBind(ctx context.Context, addr raphnet.Address) (string, <-chan AcceptNotice, error) {
	channel, err := c.Opener.OpenChannel(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := channel.SendRequest(CommandRequest{Kind: ReqTCPBind, Address: addr.String()}); err != nil {
		channel.Close()
		return "", nil, err
	}

	resp, err := channel.RecvResponse()
	if err != nil {
		channel.Close()
		return "", nil, err
	}
	if resp.Kind != RespBindAddr {
		channel.Close()
		return "", nil, fmt.Errorf("remote: expected BindAddr response, got %v", resp.Kind)
	}

	notices := make(chan AcceptNotice, 16)
	go func() {
		defer close(notices)
		defer channel.Close()
		for {
			r, err := channel.RecvResponse()
			if err != nil {
				return
			}
			if r.Kind != RespAccept {
				continue
			}
			select {
			case notices <- AcceptNotice{ID: r.ID, Addr: r.Addr}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return resp.Addr, notices, nil
}

// TCPAccept opens a new channel and attaches it to the remote stream
// registered under id, returning the local end ready to splice. A second
// TCPAccept for the same id fails on the server side (the id is already
// taken) and the returned stream will simply observe EOF/closure.
func (c *Client) TCPAccept(ctx context.Context, id uint64) (raphnet.TCPStream, error) {
	channel, err := c.Opener.OpenChannel(ctx)
	if err != nil {
		return nil, err
	}
	if err := channel.SendRequest(CommandRequest{Kind: ReqTCPAccept, ID: id}); err != nil {
		channel.Close()
		return nil, err
	}
	return channel.Stream(), nil
}
