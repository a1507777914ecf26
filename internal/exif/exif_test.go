package exif

import (
	"encoding/json"
	"testing"
)

func TestShutterSpeed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		apex float64
		want string
	}{
		{"camera 1/125", 6.97, "1/125"},
		{"exact 1/250", 7.966, "1/250"},
		{"one second", 0, "1"},
		{"slower than a second", -2, "1"},
		{"half second", 1, "1/2"},
		{"fastest", 13, "1/4000"},
		{"beyond fastest", 20, "1/4000"},
		{"1/60", 5.9, "1/60"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ShutterSpeed(tt.apex); got != tt.want {
				t.Errorf("ShutterSpeed(%v) = %q, want %q", tt.apex, got, tt.want)
			}
		})
	}
}

func TestFromRaw(t *testing.T) {
	t.Parallel()

	body := `{
		"ISOSpeedRatings": [100, 200],
		"FocalLenIn35mmFilm": 26,
		"ExposureBiasValue": 0,
		"FNumber": 1.8,
		"ShutterSpeedValue": 6.97,
		"PixelWidth": 4032,
		"PixelHeight": 3024
	}`
	var raw Raw
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		t.Fatal(err)
	}

	got := FromRaw(raw)
	want := DisplayFields{
		ISO:          "100",
		FocalLength:  "26",
		ExposureBias: "0.0",
		Aperture:     "1.8",
		ShutterSpeed: "1/125",
		AspectRatio:  4032.0 / 3024.0,
	}
	if got != want {
		t.Errorf("FromRaw() = %+v, want %+v", got, want)
	}
}

func TestFromRaw_MissingTags(t *testing.T) {
	t.Parallel()

	got := FromRaw(Raw{PixelWidth: 100})
	if got != (DisplayFields{}) {
		t.Errorf("FromRaw() = %+v, want zero fields", got)
	}
}
