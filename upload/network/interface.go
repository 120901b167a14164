package network

import (
	"context"
	"io"
)

// API is the client surface of the remote upload service.
type API interface {
	// PrepareSession performs the handshake that yields the anti-forgery
	// token carried by every subsequent request.
	PrepareSession(ctx context.Context) error

	// IngestChunk transmits one indexed chunk. It reports success only on an
	// explicit affirmative status from the endpoint; any other response is an
	// error carrying the server-provided reason. It never retries.
	IngestChunk(ctx context.Context, index int, chunk io.Reader, size int64) error

	// Finalize tells the service that all chunks have arrived and may be
	// assembled into the named file.
	Finalize(ctx context.Context, fileName string, totalChunks int) (FinalizeResponse, error)
}
