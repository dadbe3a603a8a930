package storage

import "errors"

// Standard errors shared by all storage tiers and the managers built on top
// of them. Implementations wrap these with context:
//
//	if os.IsNotExist(err) {
//	    return fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
//	}
//
// Callers check with errors.Is.
var (
	// ErrNotFound indicates the object or record is absent from every tier
	// or registry consulted by the operation. A single-tier miss is not an
	// error on the gateway read path; ErrNotFound surfaces only when the
	// fallback also misses.
	ErrNotFound = errors.New("not found")

	// ErrBackendUnavailable indicates a tier failed with an I/O or network
	// error rather than a clean miss. Transient; retrying may succeed.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrQuotaExceeded indicates the cache has insufficient space for the
	// requested allocation.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrTransferFailed indicates a download transfer failed partway
	// through. The partial bytes are retained; the item records the cause.
	ErrTransferFailed = errors.New("transfer failed")
)
