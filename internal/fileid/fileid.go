// Package fileid provides a deterministic source fingerprint for watched image files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "file:"

// SourceID returns a stable fingerprint for the given absolute path. The same
// path always yields the same ID, so the drop-folder watcher can skip files it
// has already ingested and can find the record to delete when a file is removed.
func SourceID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	sum := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(sum[:])
}
