package fault

import "errors"

// Snapshot produces a best-effort description of the failing target's
// observable state. Implementations must not block indefinitely.
type Snapshot func() (map[string]any, error)

// Enrich attaches a context snapshot to a failure. The original kind
// and message are always preserved; if the snapshot itself fails or
// panics, the error is annotated with snapshot_unavailable instead of
// being replaced.
func Enrich(err error, op string, snap Snapshot) error {
	if err == nil {
		return nil
	}

	var fe *Error
	if !errors.As(err, &fe) {
		fe = Wrap(err, KindInternal, err.Error())
	}
	fe.With("operation", op)

	if snap == nil {
		return fe
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				fe.With("snapshot", "snapshot_unavailable")
			}
		}()
		state, serr := snap()
		if serr != nil {
			fe.With("snapshot", "snapshot_unavailable")
			return
		}
		for k, v := range state {
			fe.With(k, v)
		}
	}()

	return fe
}
