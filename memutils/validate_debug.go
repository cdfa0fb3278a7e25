//go:build debug_mem_utils

package memutils

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckAlignment panics if the provided alignment is not usable.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckAlignment[T Number](alignment T, name string) {
	err := CheckAlignment[T](alignment, name)
	if err != nil {
		panic(err)
	}
}
