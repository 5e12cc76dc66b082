package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNowIsUTCMilliseconds(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	now := New().Now()

	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond))
	assert.True(t, now.After(before))
	assert.False(t, now.After(time.Now()))
}
