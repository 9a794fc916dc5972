package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/service"
	"github.com/mls-sync/internal/types"
)

type fakeClient struct {
	result    *service.SyncResult
	connected bool
	gotMode   types.SyncMode
	gotFilter models.SyncHistoryFilter
	gotPage   models.Pagination
	closed    bool
}

func (f *fakeClient) Sources() []string { return []string{"alpha", "beta"} }

func (f *fakeClient) TriggerSync(ctx context.Context, source string, mode types.SyncMode) (*service.SyncResult, error) {
	f.gotMode = mode
	return f.result, nil
}

func (f *fakeClient) GetSyncHistory(ctx context.Context, filter models.SyncHistoryFilter, page models.Pagination) (*service.Page[*models.SyncHistory], error) {
	f.gotFilter, f.gotPage = filter, page
	return &service.Page[*models.SyncHistory]{Items: []*models.SyncHistory{}, Limit: page.Limit}, nil
}

func (f *fakeClient) TestConnection(ctx context.Context, source string) (bool, error) {
	return f.connected, nil
}

func run(t *testing.T, fake *fakeClient, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(func(ctx context.Context) (syncClient, func(), error) {
		return fake, func() { fake.closed = true }, nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSourcesCommand(t *testing.T) {
	fake := &fakeClient{}
	out, err := run(t, fake, "sources")
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\n", out)
	assert.True(t, fake.closed)
}

func TestSyncCommand(t *testing.T) {
	fake := &fakeClient{result: &service.SyncResult{Success: true, RunID: "r1"}}
	out, err := run(t, fake, "sync", "alpha", "--mode", "full")
	require.NoError(t, err)
	assert.Equal(t, types.SyncModeFull, fake.gotMode)

	var res service.SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "r1", res.RunID)

	_, err = run(t, fake, "sync", "alpha", "--mode", "sometimes")
	assert.Error(t, err)

	fake.result = &service.SyncResult{Success: false, RunID: "r2", Error: "boom"}
	_, err = run(t, fake, "sync", "alpha")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "r2")
	assert.Equal(t, types.SyncModeIncremental, fake.gotMode)
}

func TestHistoryCommand(t *testing.T) {
	fake := &fakeClient{}
	_, err := run(t, fake, "history", "--source", "alpha", "--mode", "incremental", "--status", "failed", "--since", "2h", "--limit", "5")
	require.NoError(t, err)

	assert.Equal(t, "alpha", fake.gotFilter.Source)
	assert.Equal(t, types.SyncModeIncremental, fake.gotFilter.Mode)
	assert.Equal(t, types.RunStatusFailed, fake.gotFilter.Status)
	assert.NotNil(t, fake.gotFilter.Since)
	assert.Equal(t, 5, fake.gotPage.Limit)
}

func TestTestConnectionCommand(t *testing.T) {
	out, err := run(t, &fakeClient{connected: true}, "test-connection", "alpha")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha: ok")

	_, err = run(t, &fakeClient{connected: false}, "test-connection", "alpha")
	assert.Error(t, err)
}
