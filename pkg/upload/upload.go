package upload

import "context"

// Uploader archives run reports to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes and reads back a small test object to fail fast on
	// misconfiguration, before a run is registered.
	Preflight(ctx context.Context) error

	// UploadReport stores the given files, keyed by file name, under the
	// run's prefix and returns the object keys written.
	UploadReport(ctx context.Context, runID string, files map[string][]byte) ([]string, error)
}
