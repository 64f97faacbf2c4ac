// Package verify implements spec.md section 5's "Cancellation" and section
// 2's "Verification" component: a parallel, streamed whole-file and
// (optionally) per-block checksum audit of every table a Version
// references, cooperatively cancellable at table and chunk boundaries.
package verify

import "sync/atomic"

// CancelToken is a cooperative cancellation handle, restored from
// original_source's stop_signal.rs (SPEC_FULL.md's supplemented-features
// list): a long operation polls Cancelled() at natural boundaries (here,
// between tables and between chunks of one table) instead of being
// interrupted out-of-band. A zero-value CancelToken is never cancelled and
// safe to share as a default.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken returns a fresh, uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel requests cancellation. Safe to call more than once or
// concurrently with Cancelled.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called. A nil token is never
// cancelled, so callers can pass a nil *CancelToken to mean "no
// cancellation support needed" without a guard at every call site.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}
