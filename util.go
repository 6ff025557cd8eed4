package emberql

import (
	"fmt"
	"math/rand"
	"time"
)

var nameSrc = rand.New(rand.NewSource(time.Now().UnixNano()))

const nameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomName generates a short identifier, used for runtime/worker ids the
// way the teacher's driver.go seeds a runtimeID per Driver.
func randomName() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = nameAlphabet[nameSrc.Intn(len(nameAlphabet))]
	}
	return string(b)
}

// channelName derives the logical shuffle/result channel address for one
// task attempt's output, per spec.md §3 "Shuffle output location" with the
// stage ordinal added: job-J/stage-S/task-T/attempt-A. It is a pure
// function of its four components so a fresh channel name is guaranteed
// per attempt.
func channelName(jobID JobID, stage int, taskID TaskID, attempt int) string {
	return fmt.Sprintf("job-%d/stage-%d/task-%d/attempt-%d", jobID, stage, taskID, attempt)
}
