// SPDX-License-Identifier: GPL-3.0-or-later

// Package remote implements the tunnel protocol that lets one process offer
// its local net to another process over a stream: a small request/response
// exchange carrying TCP connect, bind, listener-accept notification, and
// accept-by-id attach.
//
// Grounded on original_source/remote/src/server.rs for the request/response
// state machine (RemoteServer::process_channel) and the id-vending scheme
// (fetch_add(10)), and
// other_examples/0ea82188_logscore-pmux__internal-proxy-tcp_test.go.go for
// Go test-harness idioms around multiplexed TCP streams.
package remote

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// maxFrameSize bounds a single encoded request/response, guarding against a
// corrupt or hostile length prefix driving an unbounded allocation.
const maxFrameSize = 1 << 20

// writeFrame encodes v with gob and writes it to w as a 4-byte big-endian
// length prefix followed by the encoded bytes.
func writeFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("remote: encoding frame: %w", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("remote: writing frame length: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("remote: writing frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed gob frame from r into v.
func readFrame(r io.Reader, v any) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return fmt.Errorf("remote: reading frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameSize {
		return fmt.Errorf("remote: frame of %d bytes exceeds maximum of %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("remote: reading frame body: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return fmt.Errorf("remote: decoding frame: %w", err)
	}
	return nil
}
