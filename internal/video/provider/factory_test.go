package provider_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visiarch/visiarch-api/internal/video/provider"
)

type stubProvider struct {
	kind provider.Kind
}

func (s *stubProvider) Kind() provider.Kind { return s.kind }

func (s *stubProvider) CreateTask(
	ctx context.Context,
	req provider.CreateTaskRequest,
) (*provider.CreateTaskResult, error) {
	return &provider.CreateTaskResult{TaskID: "stub", Status: provider.StatusProcessing}, nil
}

func (s *stubProvider) CheckStatus(
	ctx context.Context,
	taskID string,
	jobType provider.JobType,
) (*provider.StatusResult, error) {
	return &provider.StatusResult{Status: provider.StatusProcessing}, nil
}

func TestFactory_OneInstancePerKind(t *testing.T) {
	t.Parallel()

	var builds atomic.Int32
	factory := provider.NewFactory()
	factory.RegisterBuilder(provider.KindKling, func() (provider.Provider, error) {
		builds.Add(1)
		return &stubProvider{kind: provider.KindKling}, nil
	})

	first, err := factory.Get(provider.KindKling)
	require.NoError(t, err)
	second, err := factory.Get(provider.KindKling)
	require.NoError(t, err)

	assert.Same(t, first, second, "repeated Get must return the cached instance")
	assert.Equal(t, int32(1), builds.Load(), "builder must run exactly once")
}

func TestFactory_ResetDropsCachedInstances(t *testing.T) {
	t.Parallel()

	var builds atomic.Int32
	factory := provider.NewFactory()
	factory.RegisterBuilder(provider.KindFal, func() (provider.Provider, error) {
		builds.Add(1)
		return &stubProvider{kind: provider.KindFal}, nil
	})

	first, err := factory.Get(provider.KindFal)
	require.NoError(t, err)

	factory.Reset()

	second, err := factory.Get(provider.KindFal)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), builds.Load())
}

func TestFactory_UnknownKind(t *testing.T) {
	t.Parallel()

	factory := provider.NewFactory()
	_, err := factory.Get(provider.Kind("runway"))
	assert.ErrorIs(t, err, provider.ErrUnknownKind)
}

func TestFactory_RegisterOverridesInstance(t *testing.T) {
	t.Parallel()

	factory := provider.NewFactory()
	factory.RegisterBuilder(provider.KindKling, func() (provider.Provider, error) {
		return &stubProvider{kind: provider.KindKling}, nil
	})

	fake := &stubProvider{kind: provider.KindKling}
	factory.Register(provider.KindKling, fake)

	got, err := factory.Get(provider.KindKling)
	require.NoError(t, err)
	assert.Same(t, provider.Provider(fake), got)
}

func TestPlaceholderTaskIDs(t *testing.T) {
	t.Parallel()

	id := provider.NewPlaceholderTaskID()
	assert.True(t, provider.IsPlaceholderTaskID(id))

	other := provider.NewPlaceholderTaskID()
	assert.NotEqual(t, id, other, "placeholder ids must be unique")

	assert.False(t, provider.IsPlaceholderTaskID("kling-task-123"))
	assert.False(t, provider.IsPlaceholderTaskID(""))
}

func TestTaskStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, provider.StatusProcessing.IsTerminal())
	assert.True(t, provider.StatusSucceeded.IsTerminal())
	assert.True(t, provider.StatusFailed.IsTerminal())
}
