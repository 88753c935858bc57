package status_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bsstatus/internal/status"
)

func TestValid(t *testing.T) {
	for _, s := range status.All {
		assert.True(t, s.Valid(), s.String())
	}
	assert.False(t, status.Status("").Valid())
	assert.False(t, status.Status("offline").Valid())
}

func TestString(t *testing.T) {
	assert.Equal(t, "do_not_disturb", status.DoNotDisturb.String())
	assert.Equal(t, "unknown", status.Unknown.String())
}
