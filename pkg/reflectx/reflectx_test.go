package reflectx

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

type receiver struct{}

func (*receiver) pointerMethod() {}
func (receiver) valueMethod()    {}

func plain(int) error { return nil }

type handler func()

func TestIsFunction(t *testing.T) {
	tests := []struct {
		name string
		fn   any
		want bool
	}{
		{"nil", nil, false},
		{"int", 42, false},
		{"struct", receiver{}, false},
		{"function", plain, true},
		{"closure", func() {}, true},
		{"method expression", (*receiver).pointerMethod, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFunction(tt.fn))
		})
	}
}

func TestFunctionName(t *testing.T) {
	var r receiver
	tests := []struct {
		name string
		fn   any
		want string
	}{
		{"not a function", "x", ""},
		{"function", plain, "plain"},
		{"pointer method", (*receiver).pointerMethod, "pointerMethod"},
		{"value method", receiver.valueMethod, "valueMethod"},
		{"method value", r.valueMethod, "valueMethod"},
		{"named func type", handler(func() {}), "reflectx.handler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FunctionName(tt.fn))
		})
	}
	assert.NotEmpty(t, FunctionName(func() {}))
}

func TestIs(t *testing.T) {
	type alias map[string]any
	assert.True(t, Is[alias](reflect.TypeOf(alias{})))
	assert.False(t, Is[map[string]any](reflect.TypeOf(alias{})))
	assert.True(t, Is[string](reflect.TypeOf("")))
	assert.False(t, Is[string](reflect.TypeOf(0)))
}
