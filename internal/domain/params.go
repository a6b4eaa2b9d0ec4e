package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParamKind tags the concrete type held by a ParamValue.
type ParamKind int

const (
	ParamString ParamKind = iota
	ParamInt
	ParamFloat
	ParamBool
	ParamStrings
)

// ParamValue is a model parameter after type coercion.
type ParamValue struct {
	Kind    ParamKind
	Str     string
	Int     int64
	Float   float64
	Bool    bool
	Strings []string
}

// MarshalJSON emits the bare value so a map of ParamValues encodes the way
// servers expect the "parameters" object of a create request.
func (v ParamValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ParamInt:
		return json.Marshal(v.Int)
	case ParamFloat:
		return json.Marshal(v.Float)
	case ParamBool:
		return json.Marshal(v.Bool)
	case ParamStrings:
		return json.Marshal(v.Strings)
	default:
		return json.Marshal(v.Str)
	}
}

// paramKinds is the static coercion table for known parameter names.
// Anything not listed stays a string.
var paramKinds = map[string]ParamKind{
	"stop": ParamStrings,

	"num_ctx":       ParamInt,
	"num_batch":     ParamInt,
	"num_gpu":       ParamInt,
	"main_gpu":      ParamInt,
	"num_thread":    ParamInt,
	"num_keep":      ParamInt,
	"num_predict":   ParamInt,
	"seed":          ParamInt,
	"top_k":         ParamInt,
	"repeat_last_n": ParamInt,
	"mirostat":      ParamInt,
	"num_gqa":       ParamInt,

	"temperature":       ParamFloat,
	"top_p":             ParamFloat,
	"min_p":             ParamFloat,
	"typical_p":         ParamFloat,
	"tfs_z":             ParamFloat,
	"repeat_penalty":    ParamFloat,
	"presence_penalty":  ParamFloat,
	"frequency_penalty": ParamFloat,
	"mirostat_tau":      ParamFloat,
	"mirostat_eta":      ParamFloat,

	"penalize_newline": ParamBool,
	"numa":             ParamBool,
	"low_vram":         ParamBool,
	"f16_kv":           ParamBool,
	"vocab_only":       ParamBool,
	"use_mmap":         ParamBool,
	"use_mlock":        ParamBool,
	"logits_all":       ParamBool,
}

// CoerceParameters folds ordered PARAMETER pairs into typed values.
// Repeated "stop" keys accumulate; any other repeated key keeps its last value.
func CoerceParameters(params []Parameter) (map[string]ParamValue, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make(map[string]ParamValue, len(params))
	for _, p := range params {
		key := strings.ToLower(strings.TrimSpace(p.Key))
		raw := unquoteParam(strings.TrimSpace(p.Value))

		kind, ok := paramKinds[key]
		if !ok {
			kind = ParamString
		}

		switch kind {
		case ParamStrings:
			v := out[key]
			v.Kind = ParamStrings
			v.Strings = append(v.Strings, raw)
			out[key] = v
		case ParamInt:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %q is not an integer", key, raw)
			}
			out[key] = ParamValue{Kind: ParamInt, Int: n}
		case ParamFloat:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %q is not a number", key, raw)
			}
			out[key] = ParamValue{Kind: ParamFloat, Float: f}
		case ParamBool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %q is not a boolean", key, raw)
			}
			out[key] = ParamValue{Kind: ParamBool, Bool: b}
		default:
			out[key] = ParamValue{Kind: ParamString, Str: raw}
		}
	}
	return out, nil
}

func unquoteParam(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}

// ExpandParameters turns a decoded parameters object into PARAMETER pairs,
// keys sorted, one pair per array element. String values are quoted so they
// survive a round trip through CoerceParameters unchanged.
func ExpandParameters(raw map[string]any) []Parameter {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Parameter
	for _, k := range keys {
		switch v := raw[k].(type) {
		case []any:
			for _, elem := range v {
				out = append(out, Parameter{Key: k, Value: formatParam(elem)})
			}
		case nil:
		default:
			out = append(out, Parameter{Key: k, Value: formatParam(v)})
		}
	}
	return out
}

func formatParam(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
