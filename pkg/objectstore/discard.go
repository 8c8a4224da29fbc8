package objectstore

import (
	"context"
	"log/slog"
)

// Discard is the Uploader used when no bucket is configured: publish
// artifacts are dropped with a warning so the pipeline keeps working in
// environments without object storage.
type Discard struct{}

// Upload logs and drops the artifact.
func (Discard) Upload(ctx context.Context, blobName string, data []byte, contentType string) error {
	slog.Warn("objectstore: no bucket configured, discarding artifact",
		"blob", blobName, "bytes", len(data))
	return nil
}
