package models

// ErrValidation marks a field-level validation failure. Handlers map it to
// the Validation-error taxonomy (spec §7), never logged above INFO.
type ErrValidation string

func (e ErrValidation) Error() string { return string(e) }

// ErrConflict marks a uniqueness violation or illegal state transition,
// mapped to a 409 by the HTTP layer (spec §7 "Conflict").
type ErrConflict string

func (e ErrConflict) Error() string { return string(e) }

// ErrNotFound marks a missing or access-denied resource, mapped to 404
// without distinguishing the two cases (spec §7 "Not-found").
type ErrNotFound string

func (e ErrNotFound) Error() string { return string(e) }
