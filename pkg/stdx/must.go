// Package stdx holds small generic helpers the standard library lacks.
package stdx

// Must1 returns v, or panics when err is not nil. Meant for package level initialization
// where a failure is a programming error.
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
