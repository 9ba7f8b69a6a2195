package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(context.Context) (string, error) { return m.text, m.err }

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("static instruction")
	require.True(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstruction_NewInstructionFromFunc(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "from ctx")

	inst := NewInstructionFromFunc(func(ctx context.Context) (string, error) {
		return ctx.Value(key{}).(string), nil
	})
	require.False(t, inst.IsStatic())

	got, err := inst.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from ctx", got)
}

func TestInstruction_NewInstructionFromProvider(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{text: "provider text"})
	require.False(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "provider text", got)
}

func TestInstruction_ErrorPropagation(t *testing.T) {
	expectedErr := errors.New("boom")
	inst := NewInstructionFromProvider(mockProvider{err: expectedErr})

	_, err := inst.Resolve(context.Background())
	assert.ErrorIs(t, err, expectedErr)
}
