package schema

import (
	"errors"
	"testing"
)

const testDocument = `{
  "deviceMapping": {
    "id": ["test.device.v1"],
    "channels": [
      {
        "property": "power",
        "friendlyName": "Power",
        "channel": "power",
        "channelType": "power",
        "type": "Switch",
        "refresh": true,
        "transformation": null,
        "actions": [
          {"command": "set_power", "parameterType": "onoff", "parameter1": "\"smooth\"", "parameter2": "500"}
        ]
      },
      {
        "property": "rgb",
        "friendlyName": "Color",
        "channel": "rgb",
        "type": "Color",
        "refresh": true,
        "actions": [
          {"command": "set_rgb", "parameterType": "COLOR", "preCommandPara1": "1"}
        ]
      },
      {
        "friendlyName": "Toggle",
        "channel": "toggle",
        "type": "Switch",
        "actions": [{"command": "toggle"}]
      }
    ]
  }
}`

func TestParse_ValidDocument(t *testing.T) {
	s, err := Parse([]byte(testDocument))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(s.Models) != 1 || s.Models[0] != "test.device.v1" {
		t.Errorf("Models = %v, want [test.device.v1]", s.Models)
	}
	if s.PropertyMethod != DefaultPropertyMethod {
		t.Errorf("PropertyMethod = %q, want default %q", s.PropertyMethod, DefaultPropertyMethod)
	}
	if s.MaxProperties != DefaultMaxProperties {
		t.Errorf("MaxProperties = %d, want default %d", s.MaxProperties, DefaultMaxProperties)
	}
	if len(s.Channels) != 3 {
		t.Fatalf("len(Channels) = %d, want 3", len(s.Channels))
	}

	power := s.Channels[0]
	if power.ID != "power" || power.Property != "power" || !power.Refresh {
		t.Errorf("power channel = %+v", power)
	}
	if power.DataType() != DataSwitch {
		t.Errorf("power DataType = %v, want switch", power.DataType())
	}
	if got := power.Actions[0]; got.ParameterType != ParamOnOff || got.Parameter1 != `"smooth"` || got.Parameter2 != "500" {
		t.Errorf("power action = %+v", got)
	}

	rgb := s.Channels[1]
	if rgb.Actions[0].ParameterType != ParamColor || rgb.Actions[0].PreParameter != "1" {
		t.Errorf("rgb action = %+v", rgb.Actions[0])
	}

	toggle := s.Channels[2]
	if toggle.Actions[0].ParameterType != ParamEmpty {
		t.Errorf("missing parameterType = %v, want EMPTY", toggle.Actions[0].ParameterType)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed json", `{"deviceMapping": `},
		{"missing deviceMapping", `{"foo": {}}`},
		{"missing channels", `{"deviceMapping": {"id": ["a.b.c"]}}`},
		{"empty id list", `{"deviceMapping": {"id": [], "channels": []}}`},
		{"refresh not boolean", `{"deviceMapping": {"id": ["a.b.c"], "channels": [{"channel": "x", "refresh": "yes"}]}}`},
		{"action without command", `{"deviceMapping": {"id": ["a.b.c"], "channels": [{"channel": "x", "actions": [{"parameterType": "EMPTY"}]}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, ErrSchemaParse) {
				t.Errorf("Parse() error = %v, want ErrSchemaParse", err)
			}
		})
	}
}

func TestParse_UnknownParameterTypeKeepsDocument(t *testing.T) {
	doc := `{"deviceMapping": {"id": ["a.b.c"], "channels": [
		{"channel": "power", "property": "power", "type": "Switch", "refresh": true,
		 "actions": [{"command": "set_power", "parameterType": "ONOFF"}]},
		{"channel": "scene", "type": "String",
		 "actions": [{"command": "set_scene", "parameterType": "JSONSTRING"}]}
	]}}`

	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(s.Channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(s.Channels))
	}
	if got := s.Channels[0].Actions[0].ParameterType; got != ParamOnOff {
		t.Errorf("power parameterType = %v, want ONOFF", got)
	}
	if got := s.Channels[1].Actions[0].ParameterType; got.Valid() {
		t.Errorf("scene parameterType = %v, want invalid", got)
	}
}

func TestParseParameterType(t *testing.T) {
	tests := []struct {
		input   string
		want    ParameterType
		wantErr bool
	}{
		{"NONE", ParamNone, false},
		{"empty", ParamEmpty, false},
		{"", ParamEmpty, false},
		{"String", ParamString, false},
		{"CUSTOMSTRING", ParamCustomString, false},
		{"COLOR", ParamColor, false},
		{"ONOFF", ParamOnOff, false},
		{"ONOFFPARA", ParamOnOffPara, false},
		{"onoffbool", ParamOnOffBool, false},
		{"NUMBER", ParamNumber, false},
		{"HEX", ParamInvalid, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseParameterType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseParameterType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownParameterType) {
					t.Errorf("error = %v, want ErrUnknownParameterType", err)
				}
				if got != tt.want || got.Valid() {
					t.Errorf("ParseParameterType(%q) = %v, want invalid", tt.input, got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseParameterType(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParameterTypes_RoundTripNames(t *testing.T) {
	for _, p := range ParameterTypes() {
		got, err := ParseParameterType(p.String())
		if err != nil || got != p {
			t.Errorf("ParseParameterType(%q) = %v, %v; want %v", p.String(), got, err, p)
		}
	}
}

func TestParseDataType(t *testing.T) {
	tests := []struct {
		input string
		want  DataType
	}{
		{"Number", DataNumber},
		{"Number:Temperature", DataNumber},
		{"Dimmer", DataNumber},
		{"String", DataString},
		{"switch", DataSwitch},
		{"Color", DataColor},
		{"Contact", DataUnknown},
		{"", DataUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseDataType(tt.input); got != tt.want {
				t.Errorf("ParseDataType(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEmbeddedDocumentsParse(t *testing.T) {
	store := Embedded()
	models, err := store.Models()
	if err != nil {
		t.Fatalf("Models() error = %v", err)
	}
	if len(models) == 0 {
		t.Fatal("embedded catalogue is empty")
	}

	loader := NewLoader(store)
	for _, m := range models {
		s, err := loader.Load(m)
		if err != nil {
			t.Errorf("Load(%q) error = %v", m, err)
			continue
		}
		for _, ch := range s.Channels {
			if ch.Refresh && ch.Property == "" {
				t.Errorf("%s: channel %q refreshes without a property", m, ch.ID)
			}
		}
	}
}
