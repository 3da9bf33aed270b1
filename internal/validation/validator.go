package validation

import (
	"encoding/json"
	"strconv"
)

// Source names where a field is read from.
type Source int

const (
	Body Source = iota
	Query
	Param
)

// Field is one validated input. Rules run in order and stop at the first
// failure, so each field reports at most one message.
type Field struct {
	Name     string
	In       Source
	Optional bool
	Rules    []Rule
}

// Schema is the ordered field list for one route.
type Schema []Field

// Errors maps field names to their first error message.
type Errors map[string]string

// Input gives access to the raw values of a request, independent of the
// HTTP framework.
type Input interface {
	// Lookup returns the raw value and whether the field was present.
	Lookup(in Source, name string) (string, bool)
}

// Result holds normalized values keyed by field name and the error map.
type Result struct {
	Values Values
	Errors Errors
}

// Values are normalized field values.
type Values map[string]string

// OK reports whether every field passed.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// Validate runs schema against in. Optional fields that are absent or empty
// are skipped.
func Validate(schema Schema, in Input) Result {
	res := Result{Values: Values{}, Errors: Errors{}}
	for _, f := range schema {
		raw, present := in.Lookup(f.In, f.Name)
		if f.Optional && (!present || raw == "") {
			continue
		}
		v, msg, ok := Run(raw, f.Rules...)
		if !ok {
			if _, seen := res.Errors[f.Name]; !seen {
				res.Errors[f.Name] = msg
			}
			continue
		}
		res.Values[f.Name] = v
	}
	return res
}

// Run applies rules to a single value, stopping at the first failure.
func Run(value string, rules ...Rule) (string, string, bool) {
	v := value
	for _, rule := range rules {
		next, err := rule(v)
		if err != nil {
			return v, err.Error(), false
		}
		v = next
	}
	return v, "", true
}

// MapInput is an Input over plain maps, one per source.
type MapInput map[Source]map[string]string

func (m MapInput) Lookup(in Source, name string) (string, bool) {
	vals, ok := m[in]
	if !ok {
		return "", false
	}
	v, ok := vals[name]
	return v, ok
}

// Scalar renders a decoded JSON value as the string rules operate on.
// Objects and arrays are rendered as their JSON text.
func Scalar(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
