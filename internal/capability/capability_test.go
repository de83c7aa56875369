package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingModel struct{ err error }

func (m failingModel) Generate(context.Context, Prompt) (string, error) { return "", m.err }

func TestToolboxWrapsFailures(t *testing.T) {
	boom := errors.New("upstream down")
	box := &Toolbox{Model: failingModel{err: boom}}

	_, err := box.Generate(context.Background(), Prompt{User: "x"})
	var capErr *Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, NameGenerate, capErr.Capability)
	assert.ErrorIs(t, err, boom)

	_, err = box.WebSearch(context.Background(), "q", 1)
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, NameWebSearch, capErr.Capability)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestToolboxFilesRoundTrip(t *testing.T) {
	ws, err := NewWorkspaces(t.TempDir()).Prepare("agent_a", "task-1")
	require.NoError(t, err)
	box := &Toolbox{Files: ws}

	require.NoError(t, box.WriteFile(context.Background(), "a.txt", "hello"))
	got, err := box.ReadFile(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	err = box.WriteFile(context.Background(), "../x", "no")
	var capErr *Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, NameWriteFile, capErr.Capability)
}
