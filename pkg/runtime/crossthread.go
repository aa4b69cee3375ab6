package runtime

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/corefd/corerun/pkg/driver"
)

// registry maps a runtime's owning OS thread id to its Unpark handle,
// the cross-thread analogue of monoio's driver::thread registry. Every
// Runtime registers itself here on Build so another thread's Runtime
// can address it without either side needing a side channel set up in
// advance.
var registry sync.Map // int64 -> driver.Unpark

func currentThreadID() int64 {
	return int64(unix.Gettid())
}

func register(r *Runtime) {
	registry.Store(r.id, r.driver.Unpark())
}

func unregister(id int64) {
	registry.Delete(id)
}

// UnparkThread wakes the Runtime owning id, if it is still registered.
// It is the only Runtime-related call safe to make from a goroutine
// that isn't running on the target runtime's own thread.
func UnparkThread(id int64) bool {
	v, ok := registry.Load(id)
	if !ok {
		return false
	}
	u := v.(driver.Unpark)
	return u.UnparkNow() == nil
}
