// SPDX-License-Identifier: GPL-3.0-or-later

// Package registry holds name->factory tables for net and server providers,
// and builds a live topology from a configuration document.
//
// Grounded on original_source/rd-std/src/socks5.rs's NetFactory/
// ServerFactory trait implementations (Socks5Client implements NetFactory,
// server::Socks5 implements ServerFactory), translated from Rust traits to
// Go factory function values held in plain maps.
package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bassosimone/raphnet"
)

// NetFactory builds a named net given its already-built inner nets (in the
// order named by the config) and a raw, type-specific configuration blob.
type NetFactory func(inner []raphnet.Net, cfg json.RawMessage) (raphnet.Net, error)

// Server is anything a built server entry can run until canceled.
type Server interface {
	Run(ctx context.Context) error
}

// ServerFactory builds a named server given the net it listens on, the net
// it dials outbound through, and a raw configuration blob.
type ServerFactory func(listenNet, outboundNet raphnet.Net, cfg json.RawMessage) (Server, error)

// Registry is the set of known net and server types. The zero value is not
// usable; use [New].
type Registry struct {
	nets    map[string]NetFactory
	servers map[string]ServerFactory
}

// New returns an empty [*Registry].
func New() *Registry {
	return &Registry{nets: make(map[string]NetFactory), servers: make(map[string]ServerFactory)}
}

// RegisterNet adds a net factory under typeName, overwriting any previous
// registration (last registration wins, matching cmd-level composition
// where built-ins register before user-supplied ones).
func (r *Registry) RegisterNet(typeName string, factory NetFactory) {
	r.nets[typeName] = factory
}

// RegisterServer adds a server factory under typeName.
func (r *Registry) RegisterServer(typeName string, factory ServerFactory) {
	r.servers[typeName] = factory
}

// NetSpec is one entry in the configuration's net table: a name, its type
// (looked up in the registry), its raw config, and the names of the already
// built nets it depends on, in order.
type NetSpec struct {
	Name   string
	Type   string
	Config json.RawMessage
	Inner  []string
}

// ServerSpec is one entry in the configuration's server table.
type ServerSpec struct {
	Name      string
	Type      string
	ListenNet string
	Net       string
	Config    json.RawMessage
}

// Document is the fully-parsed net/server topology a configuration
// describes, independent of the document's on-disk YAML shape (that
// translation lives in package config).
type Document struct {
	Nets    []NetSpec
	Servers []ServerSpec
}

// Topology is the result of [*Registry.Build]: the named, already-built
// nets and servers a configuration describes.
type Topology struct {
	Nets    map[string]raphnet.Net
	Servers map[string]Server
}

// Build resolves doc into a [*Topology]. Nets are built in topological
// order (each net's inner references must already be built); any cycle, any
// reference to an unknown name, and any unregistered type is a build error.
func (r *Registry) Build(doc Document) (*Topology, error) {
	order, err := topoSort(doc.Nets)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]NetSpec, len(doc.Nets))
	for _, spec := range doc.Nets {
		byName[spec.Name] = spec
	}

	built := make(map[string]raphnet.Net, len(doc.Nets))
	for _, name := range order {
		spec := byName[name]
		factory, ok := r.nets[spec.Type]
		if !ok {
			return nil, fmt.Errorf("registry: unknown net type %q for net %q", spec.Type, spec.Name)
		}
		inner := make([]raphnet.Net, 0, len(spec.Inner))
		for _, innerName := range spec.Inner {
			n, ok := built[innerName]
			if !ok {
				return nil, fmt.Errorf("registry: net %q references unbuilt inner net %q", spec.Name, innerName)
			}
			inner = append(inner, n)
		}
		inet, err := factory(inner, spec.Config)
		if err != nil {
			return nil, fmt.Errorf("registry: building net %q: %w", spec.Name, err)
		}
		built[name] = inet
	}

	servers := make(map[string]Server, len(doc.Servers))
	for _, spec := range doc.Servers {
		factory, ok := r.servers[spec.Type]
		if !ok {
			return nil, fmt.Errorf("registry: unknown server type %q for server %q", spec.Type, spec.Name)
		}
		listenNet, ok := built[spec.ListenNet]
		if !ok {
			return nil, fmt.Errorf("registry: server %q references unknown listen net %q", spec.Name, spec.ListenNet)
		}
		outboundNet, ok := built[spec.Net]
		if !ok {
			return nil, fmt.Errorf("registry: server %q references unknown net %q", spec.Name, spec.Net)
		}
		srv, err := factory(listenNet, outboundNet, spec.Config)
		if err != nil {
			return nil, fmt.Errorf("registry: building server %q: %w", spec.Name, err)
		}
		servers[spec.Name] = srv
	}

	return &Topology{Nets: built, Servers: servers}, nil
}

// topoSort returns net names in dependency order (inner nets before the
// nets that reference them) using Kahn's algorithm, rejecting cycles and
// references to undeclared names. A hand-rolled O(V+E) pass is the right
// call here: no third-party graph library appears anywhere in the example
// pack, and a configuration's net DAG is tiny (one node per configured
// net).
func topoSort(specs []NetSpec) ([]string, error) {
	indegree := make(map[string]int, len(specs))
	dependents := make(map[string][]string)
	declared := make(map[string]bool, len(specs))

	for _, spec := range specs {
		declared[spec.Name] = true
		if _, ok := indegree[spec.Name]; !ok {
			indegree[spec.Name] = 0
		}
	}
	for _, spec := range specs {
		for _, inner := range spec.Inner {
			if !declared[inner] {
				return nil, fmt.Errorf("registry: net %q references undeclared net %q", spec.Name, inner)
			}
			indegree[spec.Name]++
			dependents[inner] = append(dependents[inner], spec.Name)
		}
	}

	var ready []string
	for _, spec := range specs {
		if indegree[spec.Name] == 0 {
			ready = append(ready, spec.Name)
		}
	}

	var order []string
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(specs) {
		return nil, fmt.Errorf("registry: net dependency graph has a cycle")
	}
	return order, nil
}
