package tool

import (
	"context"
	"encoding"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"time"

	"github.com/casualjim/flock/pkg/slogx"
	json "github.com/goccy/go-json"
)

// buildArgList decodes the call input into the function parameters by name.
// Missing parameters get their zero value.
func (t *Tool) buildArgList(ctx context.Context, input map[string]any, ec ExecContext) ([]reflect.Value, error) {
	typ := reflect.TypeOf(t.Function)
	args := make([]reflect.Value, typ.NumIn())

	idx := 0
	for i := 0; i < typ.NumIn(); i++ {
		paramType := typ.In(i)
		switch {
		case paramType == contextType:
			args[i] = reflect.ValueOf(ctx)
			continue
		case isInjected(paramType):
			args[i] = reflect.ValueOf(ec)
			continue
		}

		name := t.paramName(idx)
		idx++

		raw, ok := input[name]
		if !ok || raw == nil {
			args[i] = reflect.Zero(paramType)
			continue
		}

		rv := reflect.ValueOf(raw)
		if rv.Type().AssignableTo(paramType) {
			args[i] = rv
			continue
		}

		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		target := reflect.New(paramType)
		if err := json.Unmarshal(b, target.Interface()); err != nil {
			return nil, fmt.Errorf("parameter %s: expected %s: %w", name, paramType, err)
		}
		args[i] = target.Elem()
	}
	return args, nil
}

func callFunction(fn any, args []reflect.Value) (string, error) {
	val := reflect.ValueOf(fn)
	results := val.Call(args)
	if len(results) == 0 {
		return "", nil
	}

	if last := results[len(results)-1]; last.Type() == errorType {
		if !last.IsNil() {
			return "", last.Interface().(error)
		}
		results = results[:len(results)-1]
		if len(results) == 0 {
			return "", nil
		}
	}

	res := results[0]
	if !res.IsValid() || ((res.Kind() == reflect.Pointer || res.Kind() == reflect.Interface) && res.IsNil()) {
		return "", nil
	}

	switch v := res.Interface().(type) {
	case string:
		return v, nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	case int, int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(v).Int(), 10), nil
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(v).Uint(), 10), nil
	case float32, float64:
		return strconv.FormatFloat(reflect.ValueOf(v).Float(), 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case encoding.TextMarshaler:
		b, err := v.MarshalText()
		if err != nil {
			slog.Error("Error marshalling function return", slogx.Error(err))
			return "", err
		}
		return string(b), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			slog.Error("Error marshalling function return", slogx.Error(err))
			return "", err
		}
		return string(b), nil
	}
}
