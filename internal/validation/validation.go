// Package validation checks every inbound event payload against its
// declared struct tags before a handler runs.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yongtao-wang/collab-todo/internal/collaberr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks payload against its `validate:"..."` tags. Unknown fields
// in the wire JSON are already silently ignored by encoding/json unmarshal
// into a named struct, before Validate ever runs. On failure it returns a
// *collaberr.CollabError of kind validation_error carrying one message per
// offending field.
func Validate(payload any) error {
	if err := validate.Struct(payload); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return collaberr.Wrap(collaberr.KindValidationError, "validation failed", err)
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s: failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return collaberr.WithFields(collaberr.KindValidationError, "validation failed", fields)
	}
	return nil
}
