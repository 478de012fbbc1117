// Package reflectx holds the reflection helpers used to turn Go funcs into tools.
package reflectx

import (
	"reflect"
	"runtime"
	"strings"
)

// IsFunction reports whether fn is a non-nil func value.
func IsFunction(fn any) bool {
	return fn != nil && reflect.TypeOf(fn).Kind() == reflect.Func
}

// FunctionName returns the short name of fn, without package path or method value
// suffix. Values of a named func type return the type name, closures the name the
// compiler gave them.
func FunctionName(fn any) string {
	if !IsFunction(fn) {
		return ""
	}
	val := reflect.ValueOf(fn)
	if typ := val.Type(); typ.Name() != "" {
		return typ.String()
	}
	rf := runtime.FuncForPC(val.Pointer())
	if rf == nil {
		return val.Type().String()
	}
	name := rf.Name()
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

// Is reports whether t is exactly R. Named types never match their underlying type.
func Is[R any](t reflect.Type) bool {
	return reflect.TypeFor[R]() == t
}
