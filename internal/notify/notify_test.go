package notify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledNotifierIsSilent(t *testing.T) {
	require.NoError(t, (&Notifier{}).Send("title", "message"))

	var n *Notifier
	require.NoError(t, n.Send("title", "message"))
}

func TestFormatRunComplete(t *testing.T) {
	title, message := FormatRunComplete("INITIAL_LOAD", 3, "2025-04-01")
	assert.Contains(t, title, "complete")
	assert.Equal(t, "INITIAL_LOAD: 3 batches loaded, watermark 2025-04-01", message)

	title, message = FormatRunComplete("INCREMENTAL_MERGE", 0, "2025-04-01")
	assert.Contains(t, title, "nothing to do")
	assert.Contains(t, message, "2025-04-01")
}

func TestFormatFailures(t *testing.T) {
	_, message := FormatRunFailed("INITIAL_LOAD", errors.New("batch 2/3 failed"))
	assert.Equal(t, "INITIAL_LOAD: batch 2/3 failed", message)

	_, message = FormatRunFailed("", errors.New("lock held"))
	assert.Equal(t, "lock held", message)

	title, message := FormatStateWriteFailed("2025-04-01", errors.New("disk full"))
	assert.Contains(t, title, "watermark not saved")
	assert.Contains(t, message, "disk full")
}
