package handler

import (
	"net/http"

	"github.com/shotsapp/shots/internal/exif"
)

// FormatExif turns raw image properties into display strings.
//
// POST /v1/exif
func (h *Handler) FormatExif(w http.ResponseWriter, r *http.Request) {
	var raw exif.Raw
	if err := decodeJSON(r, &raw); err != nil {
		h.writeDecodeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exif.FromRaw(raw))
}
