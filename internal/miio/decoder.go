package miio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-miio/internal/miio/schema"
	"github.com/nerrad567/gray-logic-miio/internal/miio/transform"
)

// errNullValue marks a property the device reported as null.
var errNullValue = errors.New("miio: null value")

// errUnknownProperty marks a property with no refreshing channel.
var errUnknownProperty = errors.New("miio: property not in refresh list")

// Update is a decoded value for one channel.
type Update struct {
	Channel ChannelID
	State   State
}

// Skip records a property that produced no update and why.
type Skip struct {
	Property string
	Err      error
}

// DecodeResult is the outcome of decoding one property response.
type DecodeResult struct {
	Updates []Update
	Skipped []Skip

	// LengthMismatch is set when an array response carried a different
	// number of values than the request asked for.
	LengthMismatch bool
}

// propertyValue pairs a property name with its raw value.
type propertyValue struct {
	property string
	raw      json.RawMessage
}

// DecodeProperties maps a property response back to channel updates.
//
// Array results are paired with the request params by index, up to the
// shorter of the two. Object results use each key as the property name.
// Failures are isolated per property and reported in Skipped.
func DecodeProperties(resp Response, refresh []ChannelDef, ev *transform.Evaluator) (DecodeResult, error) {
	var result DecodeResult

	pairs, mismatch, err := pairProperties(resp)
	if err != nil {
		return result, err
	}
	result.LengthMismatch = mismatch

	for _, pv := range pairs {
		update, err := decodeOne(pv, refresh, ev)
		if err != nil {
			result.Skipped = append(result.Skipped, Skip{Property: pv.property, Err: err})
			continue
		}
		result.Updates = append(result.Updates, update)
	}
	return result, nil
}

func pairProperties(resp Response) ([]propertyValue, bool, error) {
	body := bytes.TrimSpace(resp.Result)
	if len(body) == 0 {
		return nil, false, fmt.Errorf("%w: empty result", ErrCoercion)
	}

	switch body[0] {
	case '[':
		var props []string
		if err := json.Unmarshal(resp.Params, &props); err != nil {
			return nil, false, fmt.Errorf("%w: request params: %w", ErrCoercion, err)
		}
		var values []json.RawMessage
		if err := json.Unmarshal(body, &values); err != nil {
			return nil, false, fmt.Errorf("%w: result array: %w", ErrCoercion, err)
		}
		n := min(len(props), len(values))
		pairs := make([]propertyValue, 0, n)
		for i := 0; i < n; i++ {
			pairs = append(pairs, propertyValue{property: props[i], raw: values[i]})
		}
		return pairs, len(props) != len(values), nil

	case '{':
		var values map[string]json.RawMessage
		if err := json.Unmarshal(body, &values); err != nil {
			return nil, false, fmt.Errorf("%w: result object: %w", ErrCoercion, err)
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]propertyValue, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, propertyValue{property: k, raw: values[k]})
		}
		return pairs, false, nil

	default:
		return nil, false, fmt.Errorf("%w: result is neither array nor object", ErrCoercion)
	}
}

func decodeOne(pv propertyValue, refresh []ChannelDef, ev *transform.Evaluator) (Update, error) {
	raw := bytes.TrimSpace(pv.raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Update{}, errNullValue
	}

	ch, ok := findRefreshChannel(refresh, pv.property)
	if !ok {
		return Update{}, errUnknownProperty
	}

	// UseNumber keeps integers above 2^53 exact until coercion.
	var value any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return Update{}, fmt.Errorf("%w: %s: %w", ErrCoercion, pv.property, err)
	}

	if ev != nil {
		transformed, err := ev.Evaluate(ch.Transformation, value)
		if err != nil {
			return Update{}, err
		}
		value = transformed
	}

	state, err := Coerce(ch.DataType(), value)
	if err != nil {
		return Update{}, fmt.Errorf("channel %s: %w", ch.ID, err)
	}
	return Update{Channel: ch.ID, State: state}, nil
}

// findRefreshChannel resolves a property to its channel. Lists are small,
// so a linear scan is fine.
func findRefreshChannel(refresh []ChannelDef, property string) (ChannelDef, bool) {
	for _, ch := range refresh {
		if ch.Property == property {
			return ch, true
		}
	}
	return ChannelDef{}, false
}

// Coerce converts a decoded value to the state type of a data type.
func Coerce(dt DataType, value any) (State, error) {
	switch dt {
	case schema.DataNumber:
		f, err := numeric(value)
		if err != nil {
			return nil, err
		}
		return DecimalState(f), nil

	case schema.DataString:
		switch value.(type) {
		case string, float64, bool, json.Number:
			return StringState(transform.Text(value)), nil
		default:
			return nil, fmt.Errorf("%w: %T is not a string", ErrCoercion, value)
		}

	case schema.DataSwitch:
		text := transform.Text(value)
		return OnOffState(strings.EqualFold(text, "on") || strings.EqualFold(text, "true")), nil

	case schema.DataColor:
		f, err := numeric(value)
		if err != nil {
			return nil, err
		}
		if f < 0 || f > 0xFFFFFF || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %v is not a packed RGB value", ErrCoercion, value)
		}
		return UnpackRGB(int(f)), nil

	default:
		return nil, fmt.Errorf("%w: unsupported data type %v", ErrCoercion, dt)
	}
}

// numeric converts a decoded value to a finite float64.
func numeric(value any) (float64, error) {
	f, err := parseNumeric(value)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v is not a finite number", ErrCoercion, value)
	}
	return f, nil
}

func parseNumeric(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrCoercion, err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not numeric", ErrCoercion, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T is not numeric", ErrCoercion, value)
	}
}
