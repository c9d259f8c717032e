// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// UploadValidationTask asks a worker to run the validation pipeline for one upload.
type UploadValidationTask struct {
	UploadID string `json:"upload_id"`
	StudyID  string `json:"study_id"`
	// Attempt is informational; the consumer tracks real retry counts in Redis.
	Attempt int `json:"attempt,omitempty"`
}
