// SPDX-License-Identifier: GPL-3.0-or-later

package raphnet

import (
	"context"
	"net"
	"time"
)

// Dialer abstracts [*net.Dialer] so providers can be unit tested without a
// real socket, exactly the role it plays in the teacher's connect.go.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Defaults holds the common dependencies net providers and the controller
// pre-wire into their operations: a dialer, an error classifier, and a clock.
// All fields are overridable, e.g. by tests substituting a fake clock or a
// [virtualhost.Host]-backed dialer.
//
// Adapted from the teacher's Config/NewConfig (config.go in the original nop
// package), generalized from "one Dialer field used by ConnectFunc" to the
// shared dependency set every net provider in this module needs.
type Defaults struct {
	// Dialer is used by net providers that reach the kernel network stack
	// (see netprovider/direct).
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// TimeNow returns the current time; overridable for deterministic tests
	// of the UDP bridge's idle-mapping pruning (spec §4.E).
	TimeNow func() time.Time
}

// NewDefaults creates a [*Defaults] with sensible defaults: [*net.Dialer],
// [DefaultErrClassifier], and [time.Now].
func NewDefaults() *Defaults {
	return &Defaults{
		Dialer:        &net.Dialer{},
		ErrClassifier: DefaultErrClassifier,
		TimeNow:       time.Now,
	}
}
