package fileingest

const (
	WorkflowName   = "file_ingest"
	ActivityIngest = "file_ingest_run"
)

// IngestResult is returned by the ingest activity for workflow-side logging.
type IngestResult struct {
	FileID string `json:"file_id"`
	Status string `json:"status"`
}
