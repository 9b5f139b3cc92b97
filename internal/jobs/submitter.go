// Package jobs is the hand-off point between a committed upload and the
// background workers that render thumbnails and analyze content. The core
// submits and moves on; a completed object never waits on these.
package jobs

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Submitter schedules post-commit work for a stored object.
type Submitter interface {
	// SubmitThumbnail requests thumbnail rendering for an object.
	SubmitThumbnail(ctx context.Context, objectID, storagePath string)
	// SubmitAnalysis requests content analysis for an object.
	SubmitAnalysis(ctx context.Context, objectID, storagePath string)
}

// LogSubmitter records submissions as JSON log lines for an external worker
// runner to pick up. It is the default Submitter until a broker is wired.
type LogSubmitter struct{}

// NewLogSubmitter constructs a LogSubmitter.
func NewLogSubmitter() *LogSubmitter {
	return &LogSubmitter{}
}

var _ Submitter = (*LogSubmitter)(nil)

func (s *LogSubmitter) SubmitThumbnail(ctx context.Context, objectID, storagePath string) {
	s.emit("generate_thumbnail", objectID, storagePath)
}

func (s *LogSubmitter) SubmitAnalysis(ctx context.Context, objectID, storagePath string) {
	s.emit("analyze_content", objectID, storagePath)
}

func (s *LogSubmitter) emit(task, objectID, storagePath string) {
	b, err := json.Marshal(map[string]any{
		"ts":           time.Now().UTC().Format(time.RFC3339Nano),
		"level":        "info",
		"component":    "jobs",
		"event":        "job_submitted",
		"task":         task,
		"object_id":    objectID,
		"storage_path": storagePath,
	})
	if err != nil {
		log.Printf("failed to marshal job log: %v", err)
		return
	}
	log.SetFlags(0)
	log.Println(string(b))
}
