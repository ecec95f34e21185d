package miio

import (
	"math"
	"testing"
)

func TestPackRGB(t *testing.T) {
	tests := []struct {
		name string
		in   HSBCommand
		want int
	}{
		{"red", HSBCommand{Hue: 0, Saturation: 100, Brightness: 100}, 0xFF0000},
		{"green", HSBCommand{Hue: 120, Saturation: 100, Brightness: 100}, 0x00FF00},
		{"blue", HSBCommand{Hue: 240, Saturation: 100, Brightness: 100}, 0x0000FF},
		{"white", HSBCommand{Hue: 0, Saturation: 0, Brightness: 100}, 0xFFFFFF},
		{"black", HSBCommand{Hue: 200, Saturation: 50, Brightness: 0}, 0},
		{"hue wraps", HSBCommand{Hue: 360, Saturation: 100, Brightness: 100}, 0xFF0000},
		{"clamped", HSBCommand{Hue: 0, Saturation: 150, Brightness: 120}, 0xFF0000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PackRGB(tt.in); got != tt.want {
				t.Errorf("PackRGB() = %#06x, want %#06x", got, tt.want)
			}
		})
	}
}

func TestRGBRoundTrip(t *testing.T) {
	for _, packed := range []int{0xFF0000, 0x00FF00, 0x0000FF, 0x123456, 0xFFA500, 0x808080, 0xFFFFFF} {
		hsb := UnpackRGB(packed)
		back := PackRGB(HSBCommand(hsb))

		for shift := 16; shift >= 0; shift -= 8 {
			want := (packed >> shift) & 0xFF
			got := (back >> shift) & 0xFF
			if math.Abs(float64(want-got)) > 1 {
				t.Errorf("round trip %#06x -> %#06x: component differs by more than 1", packed, back)
				break
			}
		}
	}
}

func TestUnpackRGB(t *testing.T) {
	got := UnpackRGB(0xFF0000)
	if got.Hue != 0 || got.Saturation != 100 || got.Brightness != 100 {
		t.Errorf("UnpackRGB(red) = %+v", got)
	}
}
