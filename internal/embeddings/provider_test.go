package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowProvider struct {
	delay time.Duration
	vec   []float32
	err   error
}

func (s slowProvider) EmbedQuery(ctx context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	select {
	case <-time.After(s.delay):
		return s.vec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (s slowProvider) Dimension() int { return len(s.vec) }
func (s slowProvider) Close() error   { return nil }

func TestWithTimeoutPassesFastCalls(t *testing.T) {
	p := WithTimeout(slowProvider{vec: []float32{1, 2}}, time.Second)

	vec, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
}

func TestWithTimeoutMapsDeadlineToUnavailable(t *testing.T) {
	p := WithTimeout(slowProvider{delay: time.Second, vec: []float32{1}}, 10*time.Millisecond)

	_, err := p.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestWithTimeoutPreservesOtherErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	p := WithTimeout(slowProvider{err: boom}, time.Second)

	_, err := p.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestWithTimeoutZeroIsPassthrough(t *testing.T) {
	inner := slowProvider{vec: []float32{1}}
	assert.Equal(t, Provider(inner), WithTimeout(inner, 0))
}
