package toolfmt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ArgErrorKind classifies why positional arguments could not be converted.
type ArgErrorKind int

const (
	// ArgMissingRequired means fewer arguments were given than the tool requires.
	ArgMissingRequired ArgErrorKind = iota
	// ArgTooMany means more arguments were given than the tool has parameters.
	ArgTooMany
	// ArgInvalidInteger means an integer parameter was given a non-integer value.
	ArgInvalidInteger
	// ArgInvalidNumber means a number parameter was given a non-numeric value.
	ArgInvalidNumber
	// ArgInvalidBoolean means a boolean parameter was given an unrecognized value.
	ArgInvalidBoolean
	// ArgInvalidJSON means an array or object parameter was not valid JSON of that type.
	ArgInvalidJSON
	// ArgInvalidSchema means the tool's input schema has no properties to map arguments onto.
	ArgInvalidSchema
)

// ArgError is returned by ArgsToJSON when an argument can't be mapped onto the schema.
type ArgError struct {
	Kind  ArgErrorKind
	Param string
	Value string
	Usage string
}

func (e *ArgError) Error() string {
	switch e.Kind {
	case ArgMissingRequired:
		return fmt.Sprintf("missing required parameter %q (usage: %s)", e.Param, e.Usage)
	case ArgTooMany:
		return fmt.Sprintf("too many arguments, unexpected %q (usage: %s)", e.Value, e.Usage)
	case ArgInvalidInteger:
		return fmt.Sprintf("parameter %q expects an integer, got %q", e.Param, e.Value)
	case ArgInvalidNumber:
		return fmt.Sprintf("parameter %q expects a number, got %q", e.Param, e.Value)
	case ArgInvalidBoolean:
		return fmt.Sprintf("parameter %q expects a boolean, got %q", e.Param, e.Value)
	case ArgInvalidJSON:
		return fmt.Sprintf("parameter %q expects JSON, got %q", e.Param, e.Value)
	case ArgInvalidSchema:
		return "tool input schema has no properties"
	default:
		return "invalid arguments"
	}
}

// ArgsToJSON maps positional args onto the parameters of schema and returns the JSON object
// to send as tool arguments. Arguments are consumed in UsageHint order. Values are converted
// according to the declared parameter type; parameters of unknown type are sent as strings.
func ArgsToJSON(args []string, schema json.RawMessage) (json.RawMessage, error) {
	s, ok := parseSchema(schema)
	if !ok {
		if len(args) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return nil, &ArgError{Kind: ArgInvalidSchema}
	}

	params := s.params()
	usage := usageFrom(params)

	if len(args) > len(params) {
		return nil, &ArgError{Kind: ArgTooMany, Value: args[len(params)], Usage: usage}
	}

	out := make(map[string]any, len(args))
	for i, p := range params {
		if i >= len(args) {
			if p.required {
				return nil, &ArgError{Kind: ArgMissingRequired, Param: p.name, Usage: usage}
			}
			break
		}
		v, err := convert(p, args[i])
		if err != nil {
			return nil, err
		}
		out[p.name] = v
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	return b, nil
}

func convert(p param, arg string) (any, error) {
	switch p.prop.typeName("string") {
	case "integer":
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, &ArgError{Kind: ArgInvalidInteger, Param: p.name, Value: arg}
		}
		return n, nil
	case "number":
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, &ArgError{Kind: ArgInvalidNumber, Param: p.name, Value: arg}
		}
		return f, nil
	case "boolean":
		switch strings.ToLower(arg) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
		return nil, &ArgError{Kind: ArgInvalidBoolean, Param: p.name, Value: arg}
	case "array":
		var v []any
		if err := json.Unmarshal([]byte(arg), &v); err != nil || v == nil {
			return nil, &ArgError{Kind: ArgInvalidJSON, Param: p.name, Value: arg}
		}
		return v, nil
	case "object":
		var v map[string]any
		if err := json.Unmarshal([]byte(arg), &v); err != nil || v == nil {
			return nil, &ArgError{Kind: ArgInvalidJSON, Param: p.name, Value: arg}
		}
		return v, nil
	default:
		return arg, nil
	}
}

func usageFrom(params []param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		typ := p.prop.typeName("value")
		if p.required {
			parts[i] = fmt.Sprintf("<%s:%s>", p.name, typ)
		} else {
			parts[i] = fmt.Sprintf("[%s:%s]", p.name, typ)
		}
	}
	return strings.Join(parts, " ")
}
