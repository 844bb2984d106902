package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Tracing fields, propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldSearchID is the audit id of a resolved query
	FieldSearchID = "search_id"

	// FieldMediaID is the media item being ingested
	FieldMediaID = "media_id"

	// FieldIndexName is the index being built or searched
	FieldIndexName = "index_name"

	// FieldIndexVersion is the index version being built or searched
	FieldIndexVersion = "index_version"

	// FieldModel is the embedding model name
	FieldModel = "model"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Metric fields, used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
