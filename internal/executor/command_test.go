package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michalprusek/spheroseg-sub008/internal/executor"
)

func TestCommandExecutor_ScaleToRendersTemplate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "scale.txt")
	e := executor.NewCommandExecutor(executor.CommandConfig{
		ScaleCommand: []string{"sh", "-c", "printf %s {service}={replicas} > " + out},
	})

	require.NoError(t, e.ScaleTo(context.Background(), "backend", 4))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "backend=4", string(data))
}

func TestCommandExecutor_ScaleToRejectsNegative(t *testing.T) {
	e := executor.NewCommandExecutor(executor.CommandConfig{
		ScaleCommand: []string{"true"},
	})

	err := e.ScaleTo(context.Background(), "backend", -1)
	assert.ErrorIs(t, err, executor.ErrInvalidReplicas)
}

func TestCommandExecutor_ScaleToCapturesStderr(t *testing.T) {
	e := executor.NewCommandExecutor(executor.CommandConfig{
		ScaleCommand: []string{"sh", "-c", "echo boom >&2; exit 3"},
	})

	err := e.ScaleTo(context.Background(), "backend", 2)
	require.Error(t, err)
	assert.ErrorContains(t, err, "boom")
}

func TestCommandExecutor_CurrentReplicas(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		want int
	}{
		{"single integer", "echo 5", 5},
		{"integer with whitespace", "echo '  7  '", 7},
		{"one replica per line", `printf 'a\nb\nc\n'`, 3},
		{"empty output", "true", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := executor.NewCommandExecutor(executor.CommandConfig{
				ReplicasCommand: []string{"sh", "-c", tt.cmd},
			})

			got, err := e.CurrentReplicas(context.Background(), "backend")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandExecutor_CurrentReplicasRendersService(t *testing.T) {
	e := executor.NewCommandExecutor(executor.CommandConfig{
		ReplicasCommand: []string{"sh", "-c", "test {service} = backend && echo 9"},
	})

	got, err := e.CurrentReplicas(context.Background(), "backend")
	require.NoError(t, err)
	assert.Equal(t, 9, got)
}

func TestCommandExecutor_Timeout(t *testing.T) {
	e := executor.NewCommandExecutor(executor.CommandConfig{
		ScaleCommand: []string{"sleep", "5"},
		Timeout:      50 * time.Millisecond,
	})

	err := e.ScaleTo(context.Background(), "backend", 2)
	assert.Error(t, err)
}

func TestCommandExecutor_Unconfigured(t *testing.T) {
	e := executor.NewCommandExecutor(executor.CommandConfig{})
	ctx := context.Background()

	_, err := e.CurrentReplicas(ctx, "backend")
	assert.ErrorIs(t, err, executor.ErrNotConfigured)

	err = e.ScaleTo(ctx, "backend", 1)
	assert.ErrorIs(t, err, executor.ErrNotConfigured)
}
