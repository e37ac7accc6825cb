// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/config"
	"github.com/bassosimone/raphnet/controller"
	"github.com/stretchr/testify/require"
)

const sampleConfigYAML = `
net:
  net0:
    type: direct
server:
  fwd0:
    type: forward
    listen_net: net0
    net: net0
    config:
      bind: "127.0.0.1:18765"
      target: "127.0.0.1:18766"
`

func TestTopologyBuilderRunsForwardServer(t *testing.T) {
	doc, err := config.Parse([]byte(sampleConfigYAML))
	require.NoError(t, err)

	reg := newRegistry(raphnet.DefaultSLogger(), &tls.Config{})
	ctrl := controller.New(topologyBuilder{reg: reg})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx, doc) }()

	require.Eventually(t, func() bool { return ctrl.State() == controller.StateRunning }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return ctrl.State() == controller.StateIdle }, time.Second, time.Millisecond)
}

func TestServerRunSetReturnsOnEmptyTopology(t *testing.T) {
	rs := &serverRunSet{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rs.Run(ctx)
	require.Error(t, err)
}
