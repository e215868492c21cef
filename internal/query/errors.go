package query

import "fmt"

// Validation error codes.
const (
	CodeInvalidArgument  = "invalid_argument"
	CodeUnknownParameter = "unknown_parameter"
	CodeUnknownFlag      = "unknown_flag"
	CodeDuplicate        = "duplicate_parameter"
	CodeInvalidNumber    = "invalid_number"
	CodeInvalidBoolean   = "invalid_boolean"
	CodeInvalidWorld     = "invalid_world"
	CodeAtNoWorld        = "at_no_world"
	CodeInvalidLocation  = "invalid_location"
	CodeInvalidIn        = "invalid_in"
	CodeConsoleIn        = "console_in"
	CodeRadiusAndIn      = "radius_and_in"
	CodeConsoleRadius    = "console_radius"
	CodeConsoleBounds    = "console_bounds"
	CodeInvalidBounds    = "invalid_bounds"
	CodeInvalidDuration  = "invalid_duration"
	CodeInvalidAction    = "invalid_action"
	CodeInvalidNamespace = "invalid_namespace"
	CodeInvalidTag       = "invalid_tag"
)

// ValidationError reports a rejected command argument. It is raised before any I/O.
type ValidationError struct {
	Code  string
	Param string
	Value string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid query argument %q: %s", e.Param, e.Code)
	}

	return fmt.Sprintf("invalid query argument %q (%s): %s", e.Param, e.Value, e.Code)
}

func invalid(code, param, value string) *ValidationError {
	return &ValidationError{Code: code, Param: param, Value: value}
}
