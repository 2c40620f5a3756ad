// Package blob defines the durable byte storage contract used by the
// artifact capture pipeline. Payloads are addressed by URI; implementations
// decide how a URI maps onto their backend.
package blob

import "context"

// Store writes artifact payloads to durable storage.
type Store interface {
	// WriteBytes stores an in-memory payload at the given URI.
	WriteBytes(ctx context.Context, uri string, data []byte) error
	// WriteFile stores the contents of a file already on local disk at
	// the given URI. Implementations stream the file where the backend
	// allows it.
	WriteFile(ctx context.Context, uri string, path string) error
}
