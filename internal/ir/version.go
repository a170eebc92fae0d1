package ir

// Version constants for payload schema and engine.
const (
	// PayloadVersion is bumped whenever a canonical payload changes shape.
	// It is part of every hashed payload.
	PayloadVersion = "1"

	// EngineVersion is the convergence engine version.
	EngineVersion = "0.3.0"
)
