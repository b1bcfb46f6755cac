// File: internal/browser/context_utils.go
package browser

import "context"

// CombineContext returns a context carrying primary's values (the CDP target)
// that is cancelled when either primary or op is done. op usually carries the
// per-call deadline.
func CombineContext(primary, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(op, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
