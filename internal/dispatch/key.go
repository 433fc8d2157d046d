package dispatch

import "fmt"

// DispatchKey selects the backend a kernel is registered for. Keys form a
// small dense enumeration; Undefined is the sentinel for "no identifiable
// backend" and never has kernels of its own.
type DispatchKey uint8

// Backend dispatch keys.
const (
	Undefined DispatchKey = iota
	CPU
	CUDA
	Vulkan
	Metal
	WebGPU
	Autograd

	numDispatchKeys // sentinel, keep last
)

// NumDispatchKeys is the size of the dense key space.
const NumDispatchKeys = int(numDispatchKeys)

// String returns a human-readable key name.
func (k DispatchKey) String() string {
	switch k {
	case Undefined:
		return "Undefined"
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case Vulkan:
		return "Vulkan"
	case Metal:
		return "Metal"
	case WebGPU:
		return "WebGPU"
	case Autograd:
		return "Autograd"
	default:
		return fmt.Sprintf("DispatchKey(%d)", uint8(k))
	}
}

// KeySet is a bitset over the dispatch-key space. The zero value is the
// empty set; operations return new sets (value semantics).
type KeySet uint64

// FullKeySet returns the set containing every dispatch key.
func FullKeySet() KeySet {
	return KeySet(1)<<NumDispatchKeys - 1
}

// Add returns the set with k included.
func (s KeySet) Add(k DispatchKey) KeySet {
	return s | 1<<k
}

// Remove returns the set with k excluded.
func (s KeySet) Remove(k DispatchKey) KeySet {
	return s &^ (1 << k)
}

// Has reports whether k is in the set.
func (s KeySet) Has(k DispatchKey) bool {
	return s&(1<<k) != 0
}

// Target names where a kernel registration applies: a specific dispatch key,
// or the operator-wide catch-all slot. The zero value is the catch-all.
type Target struct {
	key      DispatchKey
	specific bool
}

// ForKey returns the target for a specific dispatch key.
func ForKey(k DispatchKey) Target {
	return Target{key: k, specific: true}
}

// CatchAll returns the catch-all target.
func CatchAll() Target {
	return Target{}
}

// Key returns the specific dispatch key and true, or false for catch-all.
func (t Target) Key() (DispatchKey, bool) {
	return t.key, t.specific
}

// String returns the key name, or "CatchAll".
func (t Target) String() string {
	if t.specific {
		return t.key.String()
	}
	return "CatchAll"
}
