package emberql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomName_LengthAndAlphabet(t *testing.T) {
	name := randomName()
	assert.Len(t, name, 8)
	for _, r := range name {
		assert.True(t, strings.ContainsRune(nameAlphabet, r), "unexpected rune %q", r)
	}
}

func TestRandomName_Varies(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		seen[randomName()] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}

func TestChannelName_Format(t *testing.T) {
	got := channelName(JobID(3), 1, TaskID(9), 2)
	assert.Equal(t, "job-3/stage-1/task-9/attempt-2", got)
}

func TestChannelName_UniquePerAttempt(t *testing.T) {
	a := channelName(1, 0, 1, 0)
	b := channelName(1, 0, 1, 1)
	assert.NotEqual(t, a, b)
}
