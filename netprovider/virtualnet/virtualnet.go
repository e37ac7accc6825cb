// SPDX-License-Identifier: GPL-3.0-or-later

// Package virtualnet exposes a [virtualhost.Host] as a [raphnet.Net] net
// provider, so the in-process fabric can be named and composed from a
// configuration document exactly like any real network (direct, socks5,
// trojan, ...).
//
// Grounded on original_source/apir/src/virtual_host.rs's role in
// rd-std/src/tests as an injectable Net for integration tests, generalized
// here into a first-class, registry-addressable net type per SPEC_FULL.md's
// routing table.
package virtualnet

import (
	"encoding/json"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/virtualhost"
)

// Config is the virtual net's configuration. It takes no parameters: every
// instance is a fresh, empty in-process host: isolation between
// independently configured virtual nets comes from not sharing a *Host, not
// from any field here.
type Config struct{}

// New returns a [raphnet.Net] backed by a brand new [*virtualhost.Host].
func New(Config) raphnet.Net {
	return raphnet.WrapNet(virtualhost.New())
}

// Factory adapts [New] to [registry.NetFactory]'s signature. inner is
// ignored: a virtual host has no wrapped net of its own, the same
// "leaf net, no inner nets" position `netprovider/direct` occupies.
func Factory(inner []raphnet.Net, raw json.RawMessage) (raphnet.Net, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	return New(cfg), nil
}
