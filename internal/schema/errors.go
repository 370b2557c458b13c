package schema

import (
	"fmt"
	"strings"
)

// Schema error codes (S100-S199).
const (
	ErrUnknownSemanticType = "S100" // unrecognized semantic type name
	ErrDuplicateAttribute  = "S101" // attribute name declared twice
	ErrRangeInverted       = "S102" // min > max makes every value invalid
	ErrBadPattern          = "S103" // pattern does not compile
	ErrEnumEmpty           = "S104" // enum constraint without values
	ErrCompositeTooSmall   = "S105" // composite unique key with fewer than two members
	ErrUnknownAttribute    = "S106" // constraint or derived spec references unknown attribute
	ErrUnknownTransform    = "S107" // derived transform name not registered
	ErrDerivedCycle        = "S108" // derived fields depend on each other cyclically
	ErrScriptEmpty         = "S109" // script constraint with empty body
	ErrRegistryFrozen      = "S110" // registration attempted after freeze
	ErrDuplicateEntity     = "S111" // entity type registered twice
	ErrMissingPartition    = "S112" // derived spec without partition or sort keys
)

// Error describes one schema defect found at registration time.
// Schema errors are fatal at load: the entity type never serves traffic.
type Error struct {
	Code      string `json:"code"`
	Entity    string `json:"entity"`
	Attribute string `json:"attribute,omitempty"`
	Message   string `json:"message"`
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Entity, e.Attribute, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Entity, e.Message)
}

// Errors aggregates every defect found for one registration.
// Registration is all-or-nothing, so the caller sees the full list at once.
type Errors []Error

// Error implements the error interface.
func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
