package ir

// Version constants for the registry schema and engine.
const (
	// SchemaVersion is the IR schema version stamped on submissions.
	SchemaVersion = "1"

	// EngineVersion is the claimreg engine version.
	EngineVersion = "0.1.0"
)
