package mongo

import (
	"errors"
	"testing"

	"github.com/refulearn/cache-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestDropError_LockConflictsAreBlocked(t *testing.T) {
	for _, code := range []int32{24, 46, 215, 12586} {
		err := dropError("refulearn_progress", mongo.CommandError{Code: code, Message: "busy"})
		assert.ErrorIs(t, err, repository.ErrDeleteBlocked, "code %d", code)
		assert.Contains(t, err.Error(), "refulearn_progress")
	}
}

func TestDropError_OtherFailuresAreWrapped(t *testing.T) {
	cause := mongo.CommandError{Code: 13, Message: "unauthorized"}
	err := dropError("refulearn_courses", cause)
	assert.False(t, errors.Is(err, repository.ErrDeleteBlocked))

	var cmdErr mongo.CommandError
	assert.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, int32(13), cmdErr.Code)

	plain := errors.New("connection reset")
	assert.ErrorIs(t, dropError("x", plain), plain)
}
