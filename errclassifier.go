// SPDX-License-Identifier: GPL-3.0-or-later

package raphnet

import "github.com/bassosimone/raphnet/errclass"

// ErrClassifier classifies errors into categorical strings for structured
// logging (distinct from [ClassifyKind], which maps onto the closed [Kind]
// taxonomy used for protocol-visible error handling).
//
// Implementations map errors to short, descriptive labels (e.g., "ETIMEDOUT",
// "ECONNRESET") that facilitate systematic analysis of proxy logs.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
//
// This allows using simple functions as classifiers:
//
//	op.ErrClassifier = ErrClassifierFunc(errclass.Classify)
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier classifies errors using [errclass.Classify].
var DefaultErrClassifier = ErrClassifierFunc(errclass.Classify)
