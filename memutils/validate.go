package memutils

// Validatable is used by the DebugValidate method to allow it to act upon
// all types with a Validate method
type Validatable interface {
	Validate() error
}

// ValidateFunc adapts an unlocked validation method to Validatable, for owners that run DebugValidate
// while already holding their own lock
type ValidateFunc func() error

func (f ValidateFunc) Validate() error {
	return f()
}
