package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameAndSplitRoundTrip(t *testing.T) {
	name := Name("proj-1", "dev")
	assert.Equal(t, "proj-1/dev", name)

	project, workerType, ok := Split(name)
	require.True(t, ok)
	assert.Equal(t, "proj-1", project)
	assert.Equal(t, "dev", workerType)
}

func TestSplitRejectsNameWithoutSlash(t *testing.T) {
	_, _, ok := Split("no-slash-here")
	assert.False(t, ok)
}

func TestFIFOOrdering(t *testing.T) {
	m := New(nil)
	qn := Name("proj-1", "dev")

	m.Submit(qn, "t1")
	m.Submit(qn, "t2")
	m.Submit(qn, "t3")

	assert.Equal(t, 3, m.Depth(qn))

	got, ok := m.Pop(qn)
	require.True(t, ok)
	assert.Equal(t, "t1", got)

	got, ok = m.Pop(qn)
	require.True(t, ok)
	assert.Equal(t, "t2", got)

	assert.Equal(t, 1, m.Depth(qn))
}

func TestSubmitIfAbsentDeduplicates(t *testing.T) {
	m := New(nil)
	qn := Name("proj-1", "dev")

	assert.True(t, m.SubmitIfAbsent(qn, "t1"))
	assert.False(t, m.SubmitIfAbsent(qn, "t1"), "an already-queued ticket is not appended twice")
	assert.Equal(t, 1, m.Depth(qn))

	m.Pop(qn)
	assert.True(t, m.SubmitIfAbsent(qn, "t1"), "a popped ticket may be re-queued")
}

func TestPopOnEmptyQueueReturnsFalse(t *testing.T) {
	m := New(nil)
	_, ok := m.Pop(Name("proj-1", "dev"))
	assert.False(t, ok)
}

func TestPopOnUnknownQueueReturnsFalse(t *testing.T) {
	m := New(nil)
	_, ok := m.Pop("never-submitted/anything")
	assert.False(t, ok)
}

func TestNamesListsEverySubmittedQueue(t *testing.T) {
	m := New(nil)
	m.Submit(Name("proj-1", "dev"), "t1")
	m.Ensure(Name("proj-2", "qa"))

	names := m.Names()
	assert.ElementsMatch(t, []string{"proj-1/dev", "proj-2/qa"}, names)
}
