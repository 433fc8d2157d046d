// Copyright 2026 Loom ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu registers the pure Go CPU kernels with a dispatcher.
//
// Example:
//
//	import (
//	    "github.com/loom-ml/loom/backend/cpu"
//	    "github.com/loom-ml/loom/dispatch"
//	)
//
//	func main() {
//	    handles, err := cpu.Register(dispatch.Singleton())
//	    ...
//	}
package cpu

import (
	"github.com/loom-ml/loom/dispatch"
	internalcpu "github.com/loom-ml/loom/internal/backend/cpu"
)

// Register installs the CPU kernels into d and returns the registration
// handles, one per kernel.
func Register(d *dispatch.Dispatcher) ([]*dispatch.RegistrationHandle, error) {
	return internalcpu.Register(d)
}
