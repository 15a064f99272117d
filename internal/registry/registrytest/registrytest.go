// Package registrytest holds the behaviour every registry.Store backend
// must show.
package registrytest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamalhq/hamal/internal/process"
	"github.com/hamalhq/hamal/internal/registry"
)

// Run exercises CRUD on a store with an ensured schema.
func Run(t *testing.T, st registry.Store) {
	t.Helper()
	ctx := context.Background()

	bot := &process.Project{
		Name:          "echo-bot",
		WorkDir:       "/srv/bot",
		Entrypoint:    "main.py",
		Interpreter:   "python3",
		Env:           []string{"TOKEN=abc", "MODE=prod"},
		AutoRestart:   true,
		ScheduleStart: "0 8 * * *",
	}
	require.NoError(t, st.Create(ctx, bot))
	require.NotEmpty(t, bot.ID)
	assert.False(t, bot.CreatedAt.IsZero())

	api := &process.Project{Name: "api", WorkDir: "/srv/api", Entrypoint: "index.js", Interpreter: "node"}
	require.NoError(t, st.Create(ctx, api))

	got, err := st.Get(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo-bot", got.Name)
	assert.Equal(t, []string{"TOKEN=abc", "MODE=prod"}, got.Env)
	assert.True(t, got.AutoRestart)
	assert.Equal(t, "0 8 * * *", got.ScheduleStart)

	byName, err := st.GetByName(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, api.ID, byName.ID)
	assert.Empty(t, byName.Env)

	dup := &process.Project{Name: "api", WorkDir: "/x", Entrypoint: "a", Interpreter: "b"}
	err = st.Create(ctx, dup)
	assert.True(t, errors.Is(err, registry.ErrDuplicate), "got %v", err)

	list, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "api", list[0].Name)
	assert.Equal(t, "echo-bot", list[1].Name)

	got.Interpreter = "/opt/venv/bin/python"
	got.Env = nil
	require.NoError(t, st.Update(ctx, &got))
	again, err := st.Get(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "/opt/venv/bin/python", again.Interpreter)
	assert.Empty(t, again.Env)

	got.Name = "api"
	assert.ErrorIs(t, st.Update(ctx, &got), registry.ErrDuplicate)

	missing := process.Project{ID: "nope", Name: "ghost"}
	assert.ErrorIs(t, st.Update(ctx, &missing), registry.ErrNotFound)

	noName := process.Project{ID: bot.ID}
	assert.ErrorIs(t, st.Update(ctx, &noName), process.ErrValidation)

	require.NoError(t, st.Delete(ctx, bot.ID))
	_, err = st.Get(ctx, bot.ID)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.ErrorIs(t, st.Delete(ctx, bot.ID), registry.ErrNotFound)
}
