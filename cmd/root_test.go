package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zerolabs/zeroweb/internal/app"
)

// stubApp swaps the factory for a container that touches no external
// services. Commands exercised here must not reach the store.
func stubApp(t *testing.T) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context) (*app.App, error) {
		return &app.App{Logger: zap.NewNop()}, nil
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestClearRefusesWithoutConfirmation(t *testing.T) {
	stubApp(t)

	_, err := execute(t, "clear")
	require.ErrorContains(t, err, "--yes")
}

func TestSearchRequiresEmbedder(t *testing.T) {
	stubApp(t)

	_, err := execute(t, "search", "cats")
	require.ErrorContains(t, err, "GEMINI_API_KEY")
}

func TestIndexRebuildRequiresEmbedder(t *testing.T) {
	stubApp(t)

	_, err := execute(t, "index", "rebuild")
	require.ErrorContains(t, err, "GEMINI_API_KEY")
}
