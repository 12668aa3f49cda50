package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	malformed := fmt.Errorf("row 3: %w", ErrMalformed)
	e := Classify(StageRead, malformed)
	assert.Equal(t, KindPermanent, e.Kind)
	assert.True(t, errors.Is(e, ErrMalformed))

	e = Classify(StageMerge, fs.ErrPermission)
	assert.Equal(t, KindRetryable, e.Kind)
	assert.True(t, errors.Is(e, fs.ErrPermission))
}

func TestClassifyKeepsExisting(t *testing.T) {
	orig := Permanent(StageTransform, errors.New("bad"))
	wrapped := fmt.Errorf("outer: %w", orig)

	e := Classify(StageMerge, wrapped)
	require.Same(t, orig, e)
	assert.Equal(t, StageTransform, e.Stage)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindRetryable, KindOf(errors.New("boom")))
	assert.Equal(t, KindPermanent, KindOf(fmt.Errorf("x: %w", ErrMalformed)))
	assert.True(t, IsRetryable(Retryable(StageReport, errors.New("engine"))))
	assert.False(t, IsRetryable(Permanent(StageRead, errors.New("header"))))
}

func TestErrorMessage(t *testing.T) {
	e := Permanent(StageRead, errors.New("missing column price")).WithFile("a.csv")
	assert.Equal(t, "[PERMANENT] read a.csv: missing column price", e.Error())

	e = Retryable(StageMerge, errors.New("disk full"))
	assert.Equal(t, "[RETRYABLE] merge: disk full", e.Error())
}
