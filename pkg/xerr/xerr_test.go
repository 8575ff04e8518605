package xerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessingErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.False(t, IsPermanent(base))
	assert.False(t, IsPermanent(Transient(base)))
	assert.True(t, IsPermanent(Permanent(base)))
	assert.True(t, IsPermanent(fmt.Errorf("wrap: %w", Permanent(base))))
	assert.ErrorIs(t, Permanent(base), base)
	assert.Nil(t, Transient(nil))
	assert.Nil(t, Permanent(nil))
}

func TestAsFindsWrappedCodeError(t *testing.T) {
	err := fmt.Errorf("load: %w", ErrJobNotFound)

	ce, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, NotFound, ce.Code)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}
