// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package apiabi // import "go.opentelemetry.io/orbit-tracing/apiabi"

// Color is an RGBA color packed as 0xRRGGBBAA. ColorAuto lets the viewer
// pick one.
type Color uint32

// Material design palette.
const (
	ColorAuto       Color = 0x00000000
	ColorRed        Color = 0xf44336ff
	ColorPink       Color = 0xe91e63ff
	ColorPurple     Color = 0x9c27b0ff
	ColorDeepPurple Color = 0x673ab7ff
	ColorIndigo     Color = 0x3f51b5ff
	ColorBlue       Color = 0x2196f3ff
	ColorLightBlue  Color = 0x03a9f4ff
	ColorCyan       Color = 0x00bcd4ff
	ColorTeal       Color = 0x009688ff
	ColorGreen      Color = 0x4caf50ff
	ColorLightGreen Color = 0x8bc34aff
	ColorLime       Color = 0xcddc39ff
	ColorYellow     Color = 0xffeb3bff
	ColorAmber      Color = 0xffc107ff
	ColorOrange     Color = 0xff9800ff
	ColorDeepOrange Color = 0xff5722ff
	ColorBrown      Color = 0x795548ff
	ColorGrey       Color = 0x9e9e9eff
	ColorBlueGrey   Color = 0x607d8bff
)

// RGBA splits the color into its components.
func (c Color) RGBA() (r, g, b, a uint8) {
	return uint8(c >> 24), uint8(c >> 16), uint8(c >> 8), uint8(c)
}
