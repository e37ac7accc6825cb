// SPDX-License-Identifier: GPL-3.0-or-later

package raphnet

import (
	"context"
	"net/netip"
	"sync"
)

// Context is a mutable per-call record carrying the originating source
// address, free-form attributes, and a cancellation signal. It is passed by
// pointer through every net operation so stacked nets can read and annotate
// it; its lifetime equals the call that created it (spec §3 Context).
//
// Cancellation reuses [context.Context] rather than a bespoke one-shot flag:
// Go's context already gives every suspension point a way to observe
// cancellation (via Done()/Err()), which is exactly the contract spec §5
// asks for, and no example in this module's lineage reimplements context
// cancellation from scratch.
type Context struct {
	context.Context

	mu         sync.Mutex
	sourceAddr netip.AddrPort
	attrs      map[string]any
}

// NewContext returns an empty [*Context] derived from context.Background().
func NewContext() *Context {
	return &Context{Context: context.Background()}
}

// NewContextFrom returns a [*Context] wrapping an existing [context.Context],
// e.g. one carrying a deadline set up by the caller.
func NewContextFrom(ctx context.Context) *Context {
	return &Context{Context: ctx}
}

// FromSourceAddr returns a [*Context] with SourceAddr pre-populated, mirroring
// the common case of a server learning the context from an accepted peer.
func FromSourceAddr(addr netip.AddrPort) *Context {
	c := NewContext()
	c.SetSourceAddr(addr)
	return c
}

// SourceAddr returns the originating source address, if any.
func (c *Context) SourceAddr() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sourceAddr
}

// SetSourceAddr sets the originating source address.
func (c *Context) SetSourceAddr(addr netip.AddrPort) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sourceAddr = addr
}

// Attr returns the attribute stored under key, and whether it was present.
func (c *Context) Attr(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.attrs[key]
	return v, ok
}

// SetAttr stores an attribute under key, insertion-agnostic: setting the
// same key twice simply overwrites the previous value.
func (c *Context) SetAttr(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attrs == nil {
		c.attrs = make(map[string]any)
	}
	c.attrs[key] = value
}

// WithCancel derives a child [*Context] whose cancellation signal is tied to
// the returned cancel function, propagating the parent's source address and
// attributes by value (subsequent mutation of either context's attrs does
// not affect the other).
func (c *Context) WithCancel() (*Context, context.CancelFunc) {
	inner, cancel := context.WithCancel(c.Context)
	child := &Context{Context: inner, sourceAddr: c.SourceAddr()}
	c.mu.Lock()
	for k, v := range c.attrs {
		child.SetAttr(k, v)
	}
	c.mu.Unlock()
	return child, cancel
}

// Aborted reports whether the context's cancellation signal has fired.
func (c *Context) Aborted() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}
