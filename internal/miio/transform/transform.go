// Package transform evaluates per-channel value transformations.
//
// A transformation converts a raw value decoded from a device response into
// the value that is published for the channel. Supported forms:
//
//	""                        identity
//	SecondsToHours            number / 3600
//	YeelightSceneConversion   array rendered as its JSON text
//	scale:<factor>[:<offset>] value*factor + offset
//	map:<k>=<v>,<k>=<v>       lookup table keyed by the value's text form
//	mask:<mask>[:<shift>]     (int(value) >> shift) & mask
//	expr:<expression>         govaluate expression over the variable "value"
//
// Names and prefixes are matched case-insensitively.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"
)

// ErrTransformation is returned when a transformation cannot be applied.
var ErrTransformation = errors.New("transform: evaluation failed")

const (
	nameSecondsToHours = "secondstohours"
	nameYeelightScene  = "yeelightsceneconversion"

	prefixScale = "scale:"
	prefixMap   = "map:"
	prefixMask  = "mask:"
	prefixExpr  = "expr:"

	exprVariable = "value"
)

// Evaluator applies transformations. Compiled expressions are cached per
// expression text. The zero value is not usable; call NewEvaluator.
type Evaluator struct {
	mu    sync.RWMutex
	exprs map[string]*govaluate.EvaluableExpression
}

// NewEvaluator creates an Evaluator with an empty expression cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{exprs: make(map[string]*govaluate.EvaluableExpression)}
}

// Evaluate applies expr to value.
//
// Parameters:
//   - expr: transformation text; empty means identity
//   - value: decoded JSON value (json.Number or float64, string, bool, []any, map[string]any)
//
// Returns:
//   - any: transformed value
//   - error: wrapping ErrTransformation
func (e *Evaluator) Evaluate(expr string, value any) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return value, nil
	}

	lower := strings.ToLower(expr)
	switch {
	case lower == nameSecondsToHours:
		f, err := toFloat(value)
		if err != nil {
			return nil, wrap(expr, err)
		}
		return f / 3600, nil

	case lower == nameYeelightScene:
		return yeelightScene(expr, value)

	case strings.HasPrefix(lower, prefixScale):
		return scale(expr, expr[len(prefixScale):], value)

	case strings.HasPrefix(lower, prefixMap):
		return lookup(expr, expr[len(prefixMap):], value)

	case strings.HasPrefix(lower, prefixMask):
		return mask(expr, expr[len(prefixMask):], value)

	case strings.HasPrefix(lower, prefixExpr):
		return e.expression(expr, expr[len(prefixExpr):], value)

	default:
		return nil, fmt.Errorf("%w: unknown transformation %q", ErrTransformation, expr)
	}
}

func wrap(expr string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransformation, expr, err)
}

func yeelightScene(expr string, value any) (any, error) {
	arr, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: expected array, got %T", ErrTransformation, expr, value)
	}
	data, err := json.Marshal(arr)
	if err != nil {
		return nil, wrap(expr, err)
	}
	return string(data), nil
}

func scale(expr, args string, value any) (any, error) {
	factorText, offsetText, hasOffset := strings.Cut(args, ":")
	factor, err := strconv.ParseFloat(strings.TrimSpace(factorText), 64)
	if err != nil {
		return nil, wrap(expr, err)
	}
	var offset float64
	if hasOffset {
		offset, err = strconv.ParseFloat(strings.TrimSpace(offsetText), 64)
		if err != nil {
			return nil, wrap(expr, err)
		}
	}
	f, err := toFloat(value)
	if err != nil {
		return nil, wrap(expr, err)
	}
	return f*factor + offset, nil
}

func lookup(expr, table string, value any) (any, error) {
	key := Text(value)
	for _, pair := range strings.Split(table, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %s: malformed entry %q", ErrTransformation, expr, pair)
		}
		if strings.TrimSpace(k) == key {
			return strings.TrimSpace(v), nil
		}
	}
	return nil, fmt.Errorf("%w: %s: no entry for %q", ErrTransformation, expr, key)
}

func mask(expr, args string, value any) (any, error) {
	maskText, shiftText, hasShift := strings.Cut(args, ":")
	m, err := strconv.ParseInt(strings.TrimSpace(maskText), 0, 64)
	if err != nil {
		return nil, wrap(expr, err)
	}
	var shift int64
	if hasShift {
		shift, err = strconv.ParseInt(strings.TrimSpace(shiftText), 10, 8)
		if err != nil || shift < 0 {
			return nil, fmt.Errorf("%w: %s: invalid shift %q", ErrTransformation, expr, shiftText)
		}
	}
	n, err := toInt(value)
	if err != nil {
		return nil, wrap(expr, err)
	}
	return float64((n >> shift) & m), nil
}

func (e *Evaluator) expression(expr, body string, value any) (any, error) {
	compiled, err := e.compile(body)
	if err != nil {
		return nil, wrap(expr, err)
	}
	if n, ok := value.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return nil, wrap(expr, err)
		}
		value = f
	}
	result, err := compiled.Evaluate(map[string]any{exprVariable: value})
	if err != nil {
		return nil, wrap(expr, err)
	}
	return result, nil
}

func (e *Evaluator) compile(body string) (*govaluate.EvaluableExpression, error) {
	e.mu.RLock()
	compiled, ok := e.exprs[body]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := govaluate.NewEvaluableExpression(body)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.exprs[body] = compiled
	e.mu.Unlock()
	return compiled, nil
}

// toFloat converts a decoded JSON value to float64.
func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", value)
	}
}

// toInt converts a decoded JSON value to int64, keeping integral JSON
// numbers exact.
func toInt(value any) (int64, error) {
	if n, ok := value.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
	}
	f, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// Text renders a decoded JSON value the way devices print it: integral
// numbers without a fractional part, composite values as JSON.
func Text(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
