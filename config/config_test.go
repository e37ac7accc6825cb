// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
net:
  direct:
    type: direct
server:
  forward1:
    type: forward
    listen_net: direct
    net: direct
    config:
      bind: "127.0.0.1:1234"
      target: "127.0.0.1:4321"
`

func TestParseAndMarshalRoundTrip(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Contains(t, doc.Net, "direct")
	require.Equal(t, "direct", doc.Net["direct"].Type)
	require.Contains(t, doc.Server, "forward1")
	require.Equal(t, "forward", doc.Server["forward1"].Type)

	out, err := Marshal(doc)
	require.NoError(t, err)

	doc2, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, doc.Net, doc2.Net)
	require.Equal(t, doc.Server, doc2.Server)
}

func TestToRegistryDocument(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	rdoc := doc.ToRegistryDocument()
	require.Len(t, rdoc.Nets, 1)
	require.Len(t, rdoc.Servers, 1)
	require.Equal(t, "direct", rdoc.Nets[0].Name)
	require.Equal(t, "forward1", rdoc.Servers[0].Name)
}

func TestImportSourceYAMLRoundTrip(t *testing.T) {
	interval := uint64(30)
	poll := ImportSource{Kind: ImportSourcePoll, Poll: ImportPoll{URL: "https://example.com/config.yaml", Interval: &interval}}

	out, err := Marshal(Document{Import: []ImportSource{poll}})
	require.NoError(t, err)

	doc2, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, doc2.Import, 1)
	require.Equal(t, ImportSourcePoll, doc2.Import[0].Kind)
	require.Equal(t, "https://example.com/config.yaml", doc2.Import[0].Poll.URL)
	require.Equal(t, uint64(30), *doc2.Import[0].Poll.Interval)
}

func TestStreamOneshotEmitsOnceThenBlocksUntilCancel(t *testing.T) {
	source := NewOneshotImportSource(sampleYAML)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := Stream(ctx, source)
	require.NoError(t, err)

	doc := <-ch
	require.Contains(t, doc.Net, "direct")

	cancel()
	_, ok := <-ch
	require.False(t, ok)
}

func TestStreamPathEmitsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Stream(ctx, NewPathImportSource(path))
	require.NoError(t, err)

	doc := <-ch
	require.Contains(t, doc.Net, "direct")

	updated := sampleYAML + "\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case doc2 := <-ch:
		require.Contains(t, doc2.Net, "direct")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload after file write")
	}
}

func TestSchemaProducesValidJSON(t *testing.T) {
	out, err := Schema()
	require.NoError(t, err)
	require.Contains(t, string(out), "\"$schema\"")
}
