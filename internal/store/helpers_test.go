package store

import (
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/whisper/comment-moderator/internal/config"
)

func banPolicy() config.Policy {
	return config.DefaultPolicy()
}

func TestClassify(t *testing.T) {
	var permanent *backoff.PermanentError

	unique := &pq.Error{Code: "23505"}
	assert.True(t, errors.As(classify(unique), &permanent))

	badInput := &pq.Error{Code: "22P02"}
	assert.True(t, errors.As(classify(badInput), &permanent))

	serialization := &pq.Error{Code: "40001"}
	assert.False(t, errors.As(classify(serialization), &permanent))

	assert.False(t, errors.As(classify(errors.New("connection refused")), &permanent))
}
