package miio

import (
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-miio/internal/miio/schema"
)

// brightnessCommand replaces a COLOR action's command when the channel
// receives a plain number: such devices route brightness through the colour
// channel.
const brightnessCommand = "set_bright"

// encodeFunc renders the wire command for one parameter type.
type encodeFunc func(a ActionDef, cmd Command) (string, error)

// encoderFor returns the encoder for a parameter type, or nil for a value
// outside the enumeration.
func encoderFor(p ParameterType) encodeFunc {
	switch p {
	case schema.ParamEmpty:
		return encodeEmpty
	case schema.ParamNone:
		return encodeNone
	case schema.ParamColor:
		return encodeColor
	case schema.ParamOnOff:
		return encodeOnOff
	case schema.ParamOnOffPara:
		return encodeOnOffPara
	case schema.ParamOnOffBool:
		return encodeOnOffBool
	case schema.ParamString:
		return encodeString
	case schema.ParamCustomString:
		return encodeCustomString
	case schema.ParamNumber:
		return encodeNumber
	default:
		return nil
	}
}

// Encode renders the wire command for cmd according to the action template.
//
// The argument list is always: the optional pre-parameter, the encoded
// value, then parameter1..3, comma-joined inside brackets.
//
// Returns:
//   - string: wire command such as `set_power["on","smooth",500]`
//   - error: ErrUnsupportedCommand when the value does not fit the type
func Encode(a ActionDef, cmd Command) (string, error) {
	enc := encoderFor(a.ParameterType)
	if enc == nil {
		return "", fmt.Errorf("%w: parameter type %v", ErrUnsupportedCommand, a.ParameterType)
	}
	if _, ok := cmd.(Refresh); ok {
		return "", fmt.Errorf("%w: refresh is not a device command", ErrUnsupportedCommand)
	}
	return enc(a, cmd)
}

// prefix returns the pre-parameter followed by its separator, or "".
func prefix(a ActionDef) string {
	if a.PreParameter == "" {
		return ""
	}
	return a.PreParameter + ","
}

// suffix returns the post-parameters, each preceded by a separator.
func suffix(a ActionDef) string {
	var b strings.Builder
	for _, p := range []string{a.Parameter1, a.Parameter2, a.Parameter3} {
		if p != "" {
			b.WriteByte(',')
			b.WriteString(p)
		}
	}
	return b.String()
}

func positional(a ActionDef, value string) string {
	return a.Command + "[" + prefix(a) + value + suffix(a) + "]"
}

func quoted(s string) string {
	return `"` + s + `"`
}

func unsupported(a ActionDef, cmd Command) error {
	return fmt.Errorf("%w: %T for %v action %q", ErrUnsupportedCommand, cmd, a.ParameterType, a.Command)
}

func encodeEmpty(a ActionDef, _ Command) (string, error) {
	return a.Command + "[]", nil
}

func encodeNone(a ActionDef, _ Command) (string, error) {
	return a.Command, nil
}

func encodeColor(a ActionDef, cmd Command) (string, error) {
	switch c := cmd.(type) {
	case HSBCommand:
		return positional(a, fmt.Sprint(PackRGB(c))), nil
	case DecimalCommand:
		return brightnessCommand + "[" + strings.ToLower(c.String()) + "]", nil
	default:
		return "", unsupported(a, cmd)
	}
}

// encodeDecimal renders a number positionally; shared by every parameter
// type that accepts numeric input.
func encodeDecimal(a ActionDef, c DecimalCommand) string {
	return positional(a, strings.ToLower(c.String()))
}

func encodeOnOff(a ActionDef, cmd Command) (string, error) {
	switch c := cmd.(type) {
	case OnOffCommand:
		return positional(a, quoted(strings.ToLower(c.String()))), nil
	case DecimalCommand:
		return encodeDecimal(a, c), nil
	default:
		return "", unsupported(a, cmd)
	}
}

func encodeOnOffPara(a ActionDef, cmd Command) (string, error) {
	switch c := cmd.(type) {
	case OnOffCommand:
		return strings.ReplaceAll(a.Command, "*", strings.ToLower(c.String())) + "[]", nil
	case DecimalCommand:
		return encodeDecimal(a, c), nil
	default:
		return "", unsupported(a, cmd)
	}
}

func encodeOnOffBool(a ActionDef, cmd Command) (string, error) {
	switch c := cmd.(type) {
	case OnOffCommand:
		word := "false"
		if c {
			word = "true"
		}
		return positional(a, quoted(word)), nil
	case DecimalCommand:
		return encodeDecimal(a, c), nil
	default:
		return "", unsupported(a, cmd)
	}
}

func encodeString(a ActionDef, cmd Command) (string, error) {
	switch c := cmd.(type) {
	case StringCommand:
		return positional(a, quoted(string(c))), nil
	case OnOffCommand:
		return a.Command + "[]", nil
	case DecimalCommand:
		return encodeDecimal(a, c), nil
	default:
		return "", unsupported(a, cmd)
	}
}

// encodeCustomString opens the quote but leaves closing it to the schema's
// post-parameters.
func encodeCustomString(a ActionDef, cmd Command) (string, error) {
	switch c := cmd.(type) {
	case StringCommand:
		return a.Command + "[" + prefix(a) + `"` + string(c) + suffix(a) + "]", nil
	case OnOffCommand:
		return a.Command + "[]", nil
	case DecimalCommand:
		return encodeDecimal(a, c), nil
	default:
		return "", unsupported(a, cmd)
	}
}

func encodeNumber(a ActionDef, cmd Command) (string, error) {
	switch c := cmd.(type) {
	case DecimalCommand:
		return encodeDecimal(a, c), nil
	case OnOffCommand:
		return a.Command + "[]", nil
	default:
		return "", unsupported(a, cmd)
	}
}

// SplitWireCommand splits a wire command into its method and JSON params at
// the first '['. A command without a parameter list gets "[]".
func SplitWireCommand(wire string) (method, params string) {
	wire = strings.TrimSpace(wire)
	i := strings.IndexByte(wire, '[')
	if i < 0 {
		return wire, "[]"
	}
	return strings.TrimSpace(wire[:i]), wire[i:]
}
