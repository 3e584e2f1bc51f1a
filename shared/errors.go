package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLockTimeout          = errors.New("could not obtain lease")
	ErrUnsupportedModel     = errors.New("model is not supported")
	ErrIncorrectStage       = errors.New("incorrect stage detected. Stages must match namespace and model")
	ErrInvalidSortDirection = errors.New("invalid sort direction")
)

// LockTimeoutError is returned when the lease of a merge request could not be
// obtained in time. The caller may retry later.
type LockTimeoutError struct {
	Key string
}

func (e LockTimeoutError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLockTimeout.Error(), e.Key)
}

func (e LockTimeoutError) Unwrap() error {
	return ErrLockTimeout
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FullMessage prefixes the message with the humanized field name,
// "compliance_requirement_id" becomes "Compliance requirement".
func (e ValidationError) FullMessage() string {
	if e.Field == "" {
		return e.Message
	}
	field := strings.ReplaceAll(strings.TrimSuffix(e.Field, "_id"), "_", " ")
	return strings.ToUpper(field[:1]) + field[1:] + " " + e.Message
}

// ValidationErrors is the list of violated invariants of an entity. An empty
// list means the entity is valid.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	messages := make([]string, 0, len(v))
	for _, e := range v {
		messages = append(messages, e.FullMessage())
	}
	return strings.Join(messages, ", ")
}

func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

func (v ValidationErrors) Has(field string) bool {
	for _, e := range v {
		if e.Field == field {
			return true
		}
	}
	return false
}

func (v ValidationErrors) Messages(field string) []string {
	var messages []string
	for _, e := range v {
		if e.Field == field {
			messages = append(messages, e.Message)
		}
	}
	return messages
}

// Err returns nil for an empty list so callers can return it directly.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
