package miio

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// PackRGB converts hue (degrees), saturation and brightness (percent) to the
// packed 24-bit integer red*65536 + green*256 + blue.
func PackRGB(c HSBCommand) int {
	hue := math.Mod(c.Hue, 360)
	if hue < 0 {
		hue += 360
	}
	col := colorful.Hsv(hue, clampUnit(c.Saturation/100), clampUnit(c.Brightness/100))
	r, g, b := col.RGB255()
	return int(r)*65536 + int(g)*256 + int(b)
}

// UnpackRGB converts a packed 24-bit RGB integer to hue, saturation and
// brightness.
func UnpackRGB(packed int) HSBState {
	col := colorful.Color{
		R: float64((packed>>16)&0xFF) / 255,
		G: float64((packed>>8)&0xFF) / 255,
		B: float64(packed&0xFF) / 255,
	}
	h, s, v := col.Hsv()
	return HSBState{
		Hue:        h,
		Saturation: s * 100,
		Brightness: v * 100,
	}
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
