package ir

// Version constants for the engine and persisted formats.
const (
	// StoreSchemaVersion is the SQLite schema version (PRAGMA user_version).
	StoreSchemaVersion = 1

	// EngineVersion is the mutrec engine version.
	EngineVersion = "0.1.0"
)
