package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask() Task {
	now := time.Now()
	return Task{
		ID:        "task-1",
		Problem:   "sum two numbers",
		CreatedAt: now,
		Deadline:  now.Add(time.Minute),
		Workers:   []string{"agent_a", "agent_b", "agent_c"},
	}
}

func succeeded(worker, payload string) AgentResult {
	return AgentResult{WorkerID: worker, TaskID: "task-1", Status: StatusSucceeded, Payload: payload}
}

func TestRecordRejectsInvariantViolations(t *testing.T) {
	rs := NewResultSet(newTask())

	require.NoError(t, rs.Record(succeeded("agent_a", "x")))
	assert.ErrorIs(t, rs.Record(succeeded("agent_a", "y")), ErrDuplicateResult)
	assert.ErrorIs(t, rs.Record(succeeded("agent_z", "y")), ErrUnknownWorker)

	foreign := succeeded("agent_b", "y")
	foreign.TaskID = "task-2"
	assert.ErrorIs(t, rs.Record(foreign), ErrForeignTask)

	rs.Close()
	assert.ErrorIs(t, rs.Record(succeeded("agent_b", "y")), ErrClosed)
	assert.Equal(t, "x", rs.Results["agent_a"].Payload)
}

func TestMissingAndOrder(t *testing.T) {
	rs := NewResultSet(newTask())
	require.NoError(t, rs.Record(succeeded("agent_c", "c")))
	require.NoError(t, rs.Record(AgentResult{WorkerID: "agent_a", TaskID: "task-1", Status: StatusFailed, Error: "boom"}))

	assert.Equal(t, []string{"agent_b"}, rs.Missing())
	assert.False(t, rs.Complete())

	ordered := rs.Ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, "agent_a", ordered[0].WorkerID)
	assert.Equal(t, "agent_c", ordered[1].WorkerID)
	assert.Len(t, rs.Succeeded(), 1)
	assert.Equal(t, 1, rs.Counts()[StatusFailed])
}

func TestAgentResultValidate(t *testing.T) {
	assert.NoError(t, succeeded("agent_a", "x").Validate())
	assert.Error(t, AgentResult{Status: StatusFailed}.Validate())
	assert.Error(t, AgentResult{Status: StatusSucceeded, Error: "oops"}.Validate())
	assert.Error(t, AgentResult{Status: "done", Error: "x"}.Validate())
}

func TestFinalSolutionValidate(t *testing.T) {
	rs := NewResultSet(newTask())
	require.NoError(t, rs.Record(succeeded("agent_a", "x")))
	require.NoError(t, rs.Record(AgentResult{WorkerID: "agent_b", TaskID: "task-1", Status: StatusTimedOut, Error: "timeout"}))

	ok := FinalSolution{TaskID: "task-1", Method: MethodSingleBest, Payload: "x", Contributors: []string{"agent_a"}}
	assert.NoError(t, ok.Validate(rs))

	bad := FinalSolution{TaskID: "task-1", Method: MethodMerged, Payload: "x", Contributors: []string{"agent_a", "agent_b"}}
	assert.Error(t, bad.Validate(rs))

	none := FinalSolution{TaskID: "task-1", Method: MethodNoneAvailable}
	assert.Error(t, none.Validate(rs), "none-available is illegal with a success")
}

func TestAssignmentRoundTripRejectsEmpty(t *testing.T) {
	tk := newTask()
	assignments := tk.Assignments()
	require.Len(t, assignments, 3)

	data, err := assignments[1].Encode()
	require.NoError(t, err)
	decoded, err := DecodeAssignment(data)
	require.NoError(t, err)
	assert.Equal(t, "agent_b", decoded.WorkerID)
	assert.True(t, decoded.Deadline.Equal(tk.Deadline))

	_, err = DecodeAssignment([]byte(`{"task_id":""}`))
	assert.Error(t, err)
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"task-1", "agent_a", "task-2Hc9xQ", "a.b"} {
		assert.NoError(t, ValidateID(id), id)
	}
	for _, id := range []string{"", "  ", ".", "..", "../x", "a/b", `a\b`, "a:b"} {
		assert.Error(t, ValidateID(id), id)
	}

	_, err := DecodeAssignment([]byte(`{"task_id":"..","worker_id":"agent_a"}`))
	assert.Error(t, err)
}
