package schema

import (
	"fmt"
	"strings"
)

// Defaults applied to a deviceMapping that omits them.
const (
	DefaultPropertyMethod = "get_prop"
	DefaultMaxProperties  = 5
)

// ChannelID identifies a channel within one device instance.
type ChannelID string

// String returns the channel id as a plain string.
func (id ChannelID) String() string { return string(id) }

// Document is the on-disk form of a schema file.
type Document struct {
	DeviceMapping DeviceSchema `json:"deviceMapping"`
}

// DeviceSchema describes the channels and polling parameters of one or more
// device models.
type DeviceSchema struct {
	// Models lists the model identifiers this schema applies to.
	Models []string `json:"id"`

	// PropertyMethod is the RPC method used to read properties.
	PropertyMethod string `json:"propertyMethod"`

	// MaxProperties is the maximum number of properties per read request.
	MaxProperties int `json:"maxProperties"`

	Channels []ChannelDef `json:"channels"`
}

// ChannelDef is one addressable capability of a device.
type ChannelDef struct {
	ID             ChannelID   `json:"channel"`
	Property       string      `json:"property"`
	Type           string      `json:"type"`
	UIType         string      `json:"channelType"`
	FriendlyName   string      `json:"friendlyName"`
	Refresh        bool        `json:"refresh"`
	Transformation string      `json:"transformation"`
	Actions        []ActionDef `json:"actions"`
}

// DataType returns the parsed value type of the channel.
func (c ChannelDef) DataType() DataType {
	return ParseDataType(c.Type)
}

// ActionDef is a command template bound to a channel.
type ActionDef struct {
	Command       string        `json:"command"`
	ParameterType ParameterType `json:"parameterType"`
	PreParameter  string        `json:"preCommandPara1"`
	Parameter1    string        `json:"parameter1"`
	Parameter2    string        `json:"parameter2"`
	Parameter3    string        `json:"parameter3"`
}

// applyDefaults fills in polling parameters the document left out.
func (s *DeviceSchema) applyDefaults() {
	if strings.TrimSpace(s.PropertyMethod) == "" {
		s.PropertyMethod = DefaultPropertyMethod
	}
	if s.MaxProperties <= 0 {
		s.MaxProperties = DefaultMaxProperties
	}
}

// Channel returns the definition with the given id.
func (s *DeviceSchema) Channel(id ChannelID) (ChannelDef, bool) {
	for _, ch := range s.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChannelDef{}, false
}

// ParameterType selects how an action renders its argument list.
type ParameterType int

// Parameter types. ParamEmpty is the zero value so an action that omits
// parameterType renders an empty argument list.
const (
	ParamEmpty ParameterType = iota
	ParamNone
	ParamString
	ParamCustomString
	ParamColor
	ParamOnOff
	ParamOnOffPara
	ParamOnOffBool
	ParamNumber
)

// ParamInvalid marks a parameterType name outside the enumeration. Parsing a
// document keeps such actions so they can be rejected one at a time.
const ParamInvalid ParameterType = -1

var parameterTypeNames = map[ParameterType]string{
	ParamEmpty:        "EMPTY",
	ParamNone:         "NONE",
	ParamString:       "STRING",
	ParamCustomString: "CUSTOMSTRING",
	ParamColor:        "COLOR",
	ParamOnOff:        "ONOFF",
	ParamOnOffPara:    "ONOFFPARA",
	ParamOnOffBool:    "ONOFFBOOL",
	ParamNumber:       "NUMBER",
}

// ParameterTypes returns every parameter type in declaration order.
func ParameterTypes() []ParameterType {
	return []ParameterType{
		ParamEmpty, ParamNone, ParamString, ParamCustomString, ParamColor,
		ParamOnOff, ParamOnOffPara, ParamOnOffBool, ParamNumber,
	}
}

// Valid reports whether p is one of the enumerated parameter types.
func (p ParameterType) Valid() bool {
	_, ok := parameterTypeNames[p]
	return ok
}

// String returns the schema name of the parameter type.
func (p ParameterType) String() string {
	if name, ok := parameterTypeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("ParameterType(%d)", int(p))
}

// ParseParameterType parses a schema parameterType name, ignoring case.
func ParseParameterType(s string) (ParameterType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return ParamEmpty, nil
	}
	for p, n := range parameterTypeNames {
		if n == name {
			return p, nil
		}
	}
	return ParamInvalid, fmt.Errorf("%w: %q", ErrUnknownParameterType, s)
}

// UnmarshalText implements encoding.TextUnmarshaler. An unknown name decodes
// to ParamInvalid rather than failing the whole document.
func (p *ParameterType) UnmarshalText(text []byte) error {
	parsed, _ := ParseParameterType(string(text))
	*p = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p ParameterType) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// DataType is the value type a channel publishes.
type DataType int

// Data types.
const (
	DataUnknown DataType = iota
	DataNumber
	DataString
	DataSwitch
	DataColor
)

// String returns the lowercase name of the data type.
func (d DataType) String() string {
	switch d {
	case DataNumber:
		return "number"
	case DataString:
		return "string"
	case DataSwitch:
		return "switch"
	case DataColor:
		return "color"
	default:
		return "unknown"
	}
}

// ParseDataType maps a channel "type" to a DataType. A dimension suffix
// such as "Number:Temperature" is ignored.
func ParseDataType(s string) DataType {
	base, _, _ := strings.Cut(strings.TrimSpace(s), ":")
	switch strings.ToLower(base) {
	case "number", "dimmer":
		return DataNumber
	case "string":
		return DataString
	case "switch":
		return DataSwitch
	case "color":
		return DataColor
	default:
		return DataUnknown
	}
}
