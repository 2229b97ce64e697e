package runtime

import (
	"fmt"
	"math"

	"go.starlark.net/starlark"
)

// toStarlark converts a Go value (as produced by JSON decoding or the
// mediator's tool Run results) into a Starlark value the task script can
// consume directly.
func toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return starlark.MakeInt64(int64(val)), nil
		}
		return starlark.Float(val), nil
	case []any:
		elems := make([]starlark.Value, 0, len(val))
		for _, e := range val {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, e := range val {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to a starlark value", v)
	}
}

// fromStarlark converts a Starlark value back into a plain Go value for
// JSON-friendly storage and mediator input.
func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return val.String(), nil
	case starlark.Float:
		return float64(val), nil
	case *starlark.List:
		out := make([]any, 0, val.Len())
		iter := val.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			gv, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, 0, val.Len())
		for _, item := range val {
			gv, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", item[0].Type())
			}
			gv, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(k)] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot convert starlark value of type %s to a Go value", v.Type())
	}
}

// kwargsToInput builds a mediator input map from a Starlark call's keyword
// arguments, with an optional leading positional dict merged in first.
func kwargsToInput(args starlark.Tuple, kwargs []starlark.Tuple) (map[string]any, error) {
	input := map[string]any{}

	if len(args) > 0 {
		if d, ok := args[0].(*starlark.Dict); ok {
			gv, err := fromStarlark(d)
			if err != nil {
				return nil, err
			}
			for k, v := range gv.(map[string]any) {
				input[k] = v
			}
		} else {
			return nil, fmt.Errorf("positional arguments must be a single dict")
		}
	}

	for _, kv := range kwargs {
		name, ok := kv[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("keyword argument name must be a string")
		}
		gv, err := fromStarlark(kv[1])
		if err != nil {
			return nil, err
		}
		input[string(name)] = gv
	}

	return input, nil
}
