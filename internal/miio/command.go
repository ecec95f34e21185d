package miio

import (
	"fmt"
	"strconv"

	"github.com/nerrad567/gray-logic-miio/internal/miio/schema"
)

// Schema types used throughout the engine.
type (
	ChannelID     = schema.ChannelID
	ChannelDef    = schema.ChannelDef
	ActionDef     = schema.ActionDef
	DeviceSchema  = schema.DeviceSchema
	ParameterType = schema.ParameterType
	DataType      = schema.DataType
)

// CommandsChannel is the channel whose commands are sent verbatim as wire
// commands. Responses to them are published back on the same channel.
const CommandsChannel ChannelID = "commands"

// Command is an inbound command value. The set of implementations is closed.
type Command interface {
	fmt.Stringer
	isCommand()
}

// Refresh requests a state refresh instead of a device command.
type Refresh struct{}

// StringCommand carries free text.
type StringCommand string

// OnOffCommand carries a switch value.
type OnOffCommand bool

// DecimalCommand carries a numeric value.
type DecimalCommand float64

// HSBCommand carries a colour as hue (0-360), saturation and brightness
// (both 0-100).
type HSBCommand struct {
	Hue        float64
	Saturation float64
	Brightness float64
}

func (Refresh) isCommand()        {}
func (StringCommand) isCommand()  {}
func (OnOffCommand) isCommand()   {}
func (DecimalCommand) isCommand() {}
func (HSBCommand) isCommand()     {}

func (Refresh) String() string { return "REFRESH" }

func (c StringCommand) String() string { return string(c) }

func (c OnOffCommand) String() string {
	if c {
		return "ON"
	}
	return "OFF"
}

func (c DecimalCommand) String() string { return formatDecimal(float64(c)) }

func (c HSBCommand) String() string {
	return formatDecimal(c.Hue) + "," + formatDecimal(c.Saturation) + "," + formatDecimal(c.Brightness)
}

// formatDecimal renders a number as a plain decimal literal.
func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// State is a typed channel value ready for publishing. The set of
// implementations is closed.
type State interface {
	// Value returns the state as a JSON-friendly value.
	Value() any
	isState()
}

// DecimalState is a numeric channel value.
type DecimalState float64

// StringState is a text channel value.
type StringState string

// OnOffState is a switch channel value.
type OnOffState bool

// HSBState is a colour channel value.
type HSBState struct {
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	Brightness float64 `json:"brightness"`
}

func (DecimalState) isState() {}
func (StringState) isState()  {}
func (OnOffState) isState()   {}
func (HSBState) isState()     {}

func (s DecimalState) Value() any { return float64(s) }
func (s StringState) Value() any  { return string(s) }
func (s OnOffState) Value() any   { return bool(s) }
func (s HSBState) Value() any     { return s }
