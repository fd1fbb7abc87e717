package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusEntitled(t *testing.T) {
	assert.True(t, StatusActive.Entitled())
	assert.True(t, StatusTrialing.Entitled())
	assert.True(t, StatusPastDue.Entitled())
	assert.False(t, StatusCanceled.Entitled())
	assert.False(t, Status("").Entitled())
	assert.False(t, Status("bogus").Entitled())
}
