package tasktracker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasPendingTasks_NonexistentDir(t *testing.T) {
	require.False(t, HasPendingTasks("/nonexistent/path/that/does/not/exist"))
}

func TestTask_UnparsableOutputFailsToDecode(t *testing.T) {
	var tasks []task
	err := json.Unmarshal([]byte("not json"), &tasks)
	require.Error(t, err)
}

func TestTask_JSONShape(t *testing.T) {
	var tasks []task
	require.NoError(t, json.Unmarshal([]byte(`[{"status":"open"},{"status":"done"}]`), &tasks))
	require.Len(t, tasks, 2)
	require.Equal(t, "open", tasks[0].Status)
}
