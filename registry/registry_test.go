// SPDX-License-Identifier: GPL-3.0-or-later

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/virtualhost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func directFactory(inner []raphnet.Net, cfg json.RawMessage) (raphnet.Net, error) {
	return raphnet.WrapNet(virtualhost.New()), nil
}

func layeredFactory(inner []raphnet.Net, cfg json.RawMessage) (raphnet.Net, error) {
	if len(inner) != 1 {
		return raphnet.Net{}, errors.New("layeredFactory: expected exactly one inner net")
	}
	return inner[0], nil
}

type stubServer struct{ ran chan struct{} }

func (s *stubServer) Run(ctx context.Context) error {
	close(s.ran)
	<-ctx.Done()
	return ctx.Err()
}

func TestBuildResolvesDependencyOrder(t *testing.T) {
	r := New()
	r.RegisterNet("direct", directFactory)
	r.RegisterNet("layered", layeredFactory)

	doc := Document{
		Nets: []NetSpec{
			{Name: "outer", Type: "layered", Inner: []string{"base"}},
			{Name: "base", Type: "direct"},
		},
	}

	topo, err := r.Build(doc)
	require.NoError(t, err)
	assert.True(t, topo.Nets["base"].Valid())
	assert.True(t, topo.Nets["outer"].Valid())
}

func TestBuildRejectsCycle(t *testing.T) {
	r := New()
	r.RegisterNet("layered", layeredFactory)

	doc := Document{
		Nets: []NetSpec{
			{Name: "a", Type: "layered", Inner: []string{"b"}},
			{Name: "b", Type: "layered", Inner: []string{"a"}},
		},
	}

	_, err := r.Build(doc)
	require.Error(t, err)
}

func TestBuildRejectsUndeclaredInnerReference(t *testing.T) {
	r := New()
	r.RegisterNet("layered", layeredFactory)

	doc := Document{
		Nets: []NetSpec{
			{Name: "a", Type: "layered", Inner: []string{"ghost"}},
		},
	}

	_, err := r.Build(doc)
	require.Error(t, err)
}

func TestBuildRejectsUnknownNetType(t *testing.T) {
	r := New()
	doc := Document{Nets: []NetSpec{{Name: "a", Type: "nonexistent"}}}

	_, err := r.Build(doc)
	require.Error(t, err)
}

func TestBuildWiresServersToNamedNets(t *testing.T) {
	r := New()
	r.RegisterNet("direct", directFactory)

	var gotListen, gotOutbound raphnet.Net
	r.RegisterServer("forward", func(listenNet, outboundNet raphnet.Net, cfg json.RawMessage) (Server, error) {
		gotListen, gotOutbound = listenNet, outboundNet
		return &stubServer{ran: make(chan struct{})}, nil
	})

	doc := Document{
		Nets: []NetSpec{{Name: "n1", Type: "direct"}},
		Servers: []ServerSpec{
			{Name: "s1", Type: "forward", ListenNet: "n1", Net: "n1"},
		},
	}

	topo, err := r.Build(doc)
	require.NoError(t, err)
	require.Contains(t, topo.Servers, "s1")
	assert.True(t, gotListen.Valid())
	assert.True(t, gotOutbound.Valid())
}

func TestBuildRejectsUnknownServerNetReference(t *testing.T) {
	r := New()
	r.RegisterNet("direct", directFactory)
	r.RegisterServer("forward", func(listenNet, outboundNet raphnet.Net, cfg json.RawMessage) (Server, error) {
		return &stubServer{ran: make(chan struct{})}, nil
	})

	doc := Document{
		Nets:    []NetSpec{{Name: "n1", Type: "direct"}},
		Servers: []ServerSpec{{Name: "s1", Type: "forward", ListenNet: "ghost", Net: "n1"}},
	}

	_, err := r.Build(doc)
	require.Error(t, err)
}
