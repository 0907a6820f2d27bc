package collaberr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsFindsWrappedCollabError(t *testing.T) {
	base := New(KindPermissionDenied, "nope")
	wrapped := fmt.Errorf("outer: %w", base)

	ce, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindPermissionDenied, ce.Kind)
}

func TestOfKind(t *testing.T) {
	err := Wrap(KindTransientError, "store timeout", fmt.Errorf("dial: timeout"))
	assert.True(t, OfKind(err, KindTransientError))
	assert.False(t, OfKind(err, KindNotFound))
}

func TestWithFieldsCarriesFieldMessages(t *testing.T) {
	err := WithFields(KindValidationError, "bad payload", []string{"name: required"})
	assert.Equal(t, []string{"name: required"}, err.Fields)
}
