package agent

import (
	"context"
	"errors"
	"strings"
)

// ErrNoInputHandler is returned when an extension requests user input but no
// handler is installed. The request fails immediately rather than blocking
// the tool-call round forever.
var ErrNoInputHandler = errors.New("no user input handler installed")

// FieldType enumerates the kinds of input fields a request may carry.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldConfirm  FieldType = "confirm"
)

// InputField describes one field of a user input form, in presentation
// order. Options applies to select fields only.
type InputField struct {
	Name         string    `json:"name"`
	Label        string    `json:"label"`
	Type         FieldType `json:"type"`
	Placeholder  string    `json:"placeholder,omitempty"`
	Options      []string  `json:"options,omitempty"`
	DefaultValue string    `json:"default_value,omitempty"`
	Required     bool      `json:"required,omitempty"`
}

// InputRequest is a form an extension asks the presentation layer to show.
// A request exists only for the lifetime of one pending extension call.
type InputRequest struct {
	Question    string       `json:"question"`
	Description string       `json:"description,omitempty"`
	Fields      []InputField `json:"fields"`
}

// InputHandler fulfills an input request and returns a value per field name.
// Blocking is expected; the handler resolves when the user responds. It must
// honor ctx so an aborted turn does not leave the form pending.
type InputHandler func(ctx context.Context, req InputRequest) (map[string]string, error)

// Canonical confirm-field values. Handlers may answer in any common truthy
// or falsy spelling; responses are normalized before extensions see them.
const (
	ConfirmYes = "yes"
	ConfirmNo  = "no"
)

// NormalizeConfirm maps a handler-supplied confirm value onto the canonical
// "yes"/"no" pair. Anything not recognizably affirmative is "no".
func NormalizeConfirm(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "true", "1", "on":
		return ConfirmYes
	default:
		return ConfirmNo
	}
}
