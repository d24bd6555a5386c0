package logger

// Standard field key constants for structured logging.
const (
	FieldComponent  = "component"
	FieldDependency = "dependency"
	FieldCallID     = "call_id"
	FieldAttempt    = "attempt"
	FieldOutcome    = "outcome"
	FieldError      = "error"
	FieldDelay      = "delay_ms"
	FieldDuration   = "duration_ms"
)

// Fields builds a map[string]interface{} from alternating key-value pairs.
//
//	logger.Info("attempt done", logger.Fields("attempt", 2, "outcome", "success"))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}
