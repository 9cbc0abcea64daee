package errors

// Code represents an error code
type Code string

// Error codes shared across the orchestrator
const (
	CodeUnknown          Code = "UNKNOWN"           // Unknown error occurred
	CodeInternalError    Code = "INTERNAL_ERROR"    // Internal system error
	CodeValidationFailed Code = "VALIDATION_FAILED" // Input validation failed
	CodeInvalidParameter Code = "INVALID_PARAMETER" // Invalid parameter provided
	CodeMissingParameter Code = "MISSING_PARAMETER" // Required parameter missing
	CodeIoError          Code = "IO_ERROR"          // Input/output operation failed
	CodeNotFound         Code = "NOT_FOUND"         // Resource not found
	CodeAlreadyExists    Code = "ALREADY_EXISTS"    // Resource already exists

	// State machine error codes
	CodeInvalidTransition    Code = "INVALID_TRANSITION"     // Illegal workflow state transition
	CodeExecutionNotFound    Code = "EXECUTION_NOT_FOUND"    // Workflow execution not found
	CodeDuplicateExecutionID Code = "DUPLICATE_EXECUTION_ID" // Execution id already in use
	CodeInvalidStepStatus    Code = "INVALID_STEP_STATUS"    // Step not in the expected status

	// Continuation token error codes
	CodeTokenMalformed    Code = "TOKEN_MALFORMED"     // Token failed base64/JSON decode
	CodeTokenSchema       Code = "TOKEN_SCHEMA"        // Token payload missing required fields
	CodeTokenExpired      Code = "TOKEN_EXPIRED"       // Token past its 24h lifetime
	CodeTokenFutureIssued Code = "TOKEN_FUTURE_ISSUED" // Token issued_at lies in the future
	CodeTokenStepMismatch Code = "TOKEN_STEP_MISMATCH" // Token step differs from current step

	// Store error codes
	CodeMigrationFailed     Code = "MIGRATION_FAILED"     // Schema migration failed
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION" // CHECK or UNIQUE constraint violated

	// Content provider error codes
	CodeWorkflowNotFound Code = "WORKFLOW_NOT_FOUND" // Workflow definition missing
	CodeAgentNotFound    Code = "AGENT_NOT_FOUND"    // Agent definition missing
	CodeContentInvalid   Code = "CONTENT_INVALID"    // Definition unparseable
)
