// Package adder implements the Adder: validating a candidate backend name
// against the catalog, collecting any missing arguments or credentials, and
// materializing a launch spec for the active set manager.
package adder

import "mcpmux/internal/catalog"

// ResultKind discriminates the structured outcomes add() can return. Only
// one of Success/UnknownServer/AlreadyActive/NeedsArguments/NeedsAuth
// carries its matching field.
type ResultKind string

const (
	ResultSuccess        ResultKind = "success"
	ResultUnknownServer  ResultKind = "unknown-server"
	ResultAlreadyActive  ResultKind = "already-active"
	ResultNeedsArguments ResultKind = "needs-arguments"
	ResultNeedsAuth      ResultKind = "needs-auth"
)

// Result is the machine-readable outcome of add(), paired with a
// human-readable Message meant to guide the calling agent toward resolving
// the gap (supplying arguments, running store-auth, retrying a valid name).
type Result struct {
	Kind    ResultKind `json:"kind"`
	Message string     `json:"message"`

	SuggestedNames []string                       `json:"suggested_names,omitempty"`
	NeedsArguments []catalog.ArgumentRequirement  `json:"needs_arguments,omitempty"`
	NeedsAuth      []catalog.AuthRequirement      `json:"needs_auth,omitempty"`
	ToolCount      int                            `json:"tool_count,omitempty"`
}
