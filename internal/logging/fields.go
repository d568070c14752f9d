package logging

// Standardized attribute keys used across components.
const (
	FieldComponent = "component"
	FieldSource    = "source"
	FieldTarget    = "target"
	FieldOutput    = "output"
	FieldReason    = "reason"
	FieldAttempt   = "attempt"
	FieldPassID    = "pass_id"
)
