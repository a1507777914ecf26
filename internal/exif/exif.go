// Package exif turns raw photo metadata into display strings.
package exif

import (
	"math"
	"strconv"
)

// commonShutterSpeeds are the exposure times a camera dial shows, in seconds.
var commonShutterSpeeds = []float64{
	1.0 / 4000, 1.0 / 2000, 1.0 / 1000, 1.0 / 500, 1.0 / 250, 1.0 / 125,
	1.0 / 60, 1.0 / 30, 1.0 / 15, 1.0 / 8, 1.0 / 4, 1.0 / 2, 1,
}

// Raw holds the image properties as read from the file. Pointer fields are
// nil when the tag is absent.
type Raw struct {
	ISOSpeedRatings    []int    `json:"ISOSpeedRatings,omitempty"`
	FocalLenIn35mmFilm *int     `json:"FocalLenIn35mmFilm,omitempty"`
	ExposureBiasValue  *float64 `json:"ExposureBiasValue,omitempty"`
	FNumber            *float64 `json:"FNumber,omitempty"`
	ShutterSpeedValue  *float64 `json:"ShutterSpeedValue,omitempty"`
	PixelWidth         float64  `json:"PixelWidth,omitempty"`
	PixelHeight        float64  `json:"PixelHeight,omitempty"`
}

// DisplayFields are ready to render. Missing tags render as "".
type DisplayFields struct {
	ISO          string  `json:"iso"`
	FocalLength  string  `json:"focal_length"`
	ExposureBias string  `json:"exposure_bias"`
	Aperture     string  `json:"aperture"`
	ShutterSpeed string  `json:"shutter_speed"`
	AspectRatio  float64 `json:"aspect_ratio"`
}

// ShutterSpeed converts an APEX shutter speed value to the nearest common
// exposure time, formatted as "1/N" or "1" for a full second.
func ShutterSpeed(apex float64) string {
	seconds := 1 / math.Pow(2, apex)

	closest := commonShutterSpeeds[0]
	for _, s := range commonShutterSpeeds[1:] {
		if math.Abs(s-seconds) < math.Abs(closest-seconds) {
			closest = s
		}
	}

	denominator := int(math.Round(1 / closest))
	if denominator == 1 {
		return "1"
	}
	return "1/" + strconv.Itoa(denominator)
}

// FromRaw builds the display fields for r.
func FromRaw(r Raw) DisplayFields {
	var d DisplayFields
	if len(r.ISOSpeedRatings) > 0 {
		d.ISO = strconv.Itoa(r.ISOSpeedRatings[0])
	}
	if r.FocalLenIn35mmFilm != nil {
		d.FocalLength = strconv.Itoa(*r.FocalLenIn35mmFilm)
	}
	if r.ExposureBiasValue != nil {
		d.ExposureBias = formatFloat(*r.ExposureBiasValue)
	}
	if r.FNumber != nil {
		d.Aperture = formatFloat(*r.FNumber)
	}
	if r.ShutterSpeedValue != nil {
		d.ShutterSpeed = ShutterSpeed(*r.ShutterSpeedValue)
	}
	if r.PixelHeight != 0 {
		d.AspectRatio = r.PixelWidth / r.PixelHeight
	}
	return d
}

// formatFloat always keeps one decimal so 2 reads as "2.0", like a lens
// barrel.
func formatFloat(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
