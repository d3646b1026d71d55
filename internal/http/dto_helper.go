package httpapp

import (
	"encoding/json"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/cesargomez89/catalogsync/internal/http/dto"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON body into v and validates it. On failure it writes a
// 400 with a field map and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v validation.Validatable) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "invalid request body",
			"fields": map[string]string{"body": err.Error()},
		})
		return false
	}
	if err := v.Validate(); err != nil {
		errs := dto.FromValidation(err)
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  fmt.Sprintf("validation failed: %s", dto.ToResponse(errs)),
			"fields": dto.ToMap(errs),
		})
		return false
	}
	return true
}
