// Package allocator derives storage keys for newly uploaded objects.
// Allocation is a pure function of tenant, filename and wall-clock time;
// it never inspects existing storage. Collision avoidance relies on the
// timestamp prefix plus content-hash deduplication downstream.
package allocator

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// FallbackName is used when sanitization strips every character from the
// original filename.
const FallbackName = "file"

// Allocate returns the storage key for an upload: partitioned by tenant and
// a year/month bucket, with a timestamp-prefixed sanitized basename.
//
//	<tenant_id>/<YYYY>/<MM>/<YYYYMMDD_HHMMSS>_<sanitized>
func Allocate(tenantID, originalFilename string, now time.Time) string {
	bucket := now.Format("2006/01")
	stamp := now.Format("20060102_150405")
	name := Sanitize(originalFilename)
	return path.Join(tenantID, bucket, fmt.Sprintf("%s_%s", stamp, name))
}

// Sanitize strips every character outside letters, digits, '.', '_' and '-'
// from a filename. An empty result falls back to FallbackName.
func Sanitize(filename string) string {
	var b strings.Builder
	for _, r := range filename {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return FallbackName
	}
	return s
}
