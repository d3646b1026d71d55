package dto

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/cesargomez89/catalogsync/internal/constants"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func ToMap(errs []ValidationError) map[string]string {
	result := make(map[string]string)
	for _, e := range errs {
		result[e.Field] = e.Message
	}
	return result
}

func ToResponse(errs []ValidationError) string {
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// FromValidation flattens ozzo validation errors into field errors, sorted by
// field. Nested errors (slice elements) are keyed as field.index.
func FromValidation(err error) []ValidationError {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Field: "body", Message: err.Error()}}
	}
	var out []ValidationError
	flatten("", verrs, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func flatten(prefix string, verrs validation.Errors, out *[]ValidationError) {
	for field, err := range verrs {
		if prefix != "" {
			field = prefix + "." + field
		}
		var nested validation.Errors
		if errors.As(err, &nested) {
			flatten(field, nested, out)
			continue
		}
		*out = append(*out, ValidationError{Field: field, Message: err.Error()})
	}
}

var errUnsupportedGame = validation.NewError("validation_unsupported_game",
	"must be one of: "+strings.Join(constants.SupportedGames, ", "))

func supportedGame(value interface{}) error {
	s, _ := value.(string)
	if !constants.IsSupportedGame(s) {
		return errUnsupportedGame
	}
	return nil
}

func uniqueStrings(value interface{}) error {
	items, _ := value.([]string)
	seen := make(map[string]bool, len(items))
	for _, s := range items {
		if seen[s] {
			return validation.NewError("validation_duplicate", "must not contain duplicates: "+s)
		}
		seen[s] = true
	}
	return nil
}
