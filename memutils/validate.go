package memutils

// Validatable is used by DebugValidate to act upon anything that can check its own consistency,
// such as a page's block list or a whole memory pool
type Validatable interface {
	Validate() error
}
