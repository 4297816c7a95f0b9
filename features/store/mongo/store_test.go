package mongo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowclip/flowclip/runtime/store"
)

func TestLegalTaskSources(t *testing.T) {
	require.ElementsMatch(t, []string{"running", "pending"}, legalSources(store.TaskRunning))
	require.ElementsMatch(t, []string{"completed", "running"}, legalSources(store.TaskCompleted))
	require.ElementsMatch(t, []string{"failed", "running"}, legalSources(store.TaskFailed))
	require.ElementsMatch(t, []string{"pending"}, legalSources(store.TaskPending))
}

func TestLegalSessionSources(t *testing.T) {
	require.ElementsMatch(t, []string{"active", "inactive"}, legalSessionSources(store.SessionActive))
	require.ElementsMatch(t, []string{"expired", "inactive", "active"}, legalSessionSources(store.SessionExpired))
	require.ElementsMatch(t, []string{"completed", "inactive", "active"}, legalSessionSources(store.SessionCompleted))
}

func TestNormalizeTags(t *testing.T) {
	require.Equal(t, []string{"hotel", "toronto"}, normalizeTags([]string{"Hotel", "hotel", " Toronto ", ""}))
	require.Nil(t, normalizeTags(nil))
}
