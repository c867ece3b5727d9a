package params

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-frappuccino/teamlists/pkg/discord/commands/core"
	"github.com/small-frappuccino/teamlists/pkg/discord/commands/core/coretest"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

type fakeBroadcaster struct{ calls int }

func (f *fakeBroadcaster) EnqueueGuild(context.Context, string, ...string) int {
	f.calls++
	return 0
}

type fakeSaver struct{ saves int }

func (f *fakeSaver) Save(context.Context) error {
	f.saves++
	return nil
}

var roles = coretest.Roles{
	{ID: "111111111111111111", Name: "Top"},
	{ID: "222222222222222222", Name: "Mid"},
}

func TestAddParamOverwrites(t *testing.T) {
	reg := teamlist.NewRegistry()
	b := &fakeBroadcaster{}
	s := &fakeSaver{}
	c := New(reg, b, s)

	ctx, rec := coretest.NewContext(map[string]any{"label": "Lane", "roles": "<@&111111111111111111> <@&222222222222222222>"}, roles)
	require.NoError(t, c.addParam(ctx))
	assert.Equal(t, "✅ Parameter **Lane** set to Top, Mid.", rec.Last().Content)

	ctx, _ = coretest.NewContext(map[string]any{"label": "Lane", "roles": "<@&222222222222222222>"}, roles)
	require.NoError(t, c.addParam(ctx))

	assert.Equal(t, []teamlist.CustomParameter{{Label: "Lane", RoleIDs: []string{"222222222222222222"}}}, reg.CustomParameters("g1"))
	assert.Equal(t, 2, b.calls)
	assert.Equal(t, 2, s.saves)
}

func TestAddParamValidation(t *testing.T) {
	c := New(teamlist.NewRegistry(), &fakeBroadcaster{}, &fakeSaver{})
	for _, args := range []map[string]any{
		{"roles": "<@&111111111111111111>"},
		{"label": "Lane", "roles": "nobody"},
	} {
		ctx, _ := coretest.NewContext(args, roles)
		var cmdErr *core.CommandError
		require.True(t, errors.As(c.addParam(ctx), &cmdErr), "args %v", args)
		assert.Equal(t, core.KindInvalidArgument, cmdErr.Kind)
	}
}

func TestRemoveParam(t *testing.T) {
	reg := teamlist.NewRegistry()
	c := New(reg, &fakeBroadcaster{}, &fakeSaver{})
	ctx, rec := coretest.NewContext(map[string]any{"label": "Lane"}, roles)

	var cmdErr *core.CommandError
	require.True(t, errors.As(c.removeParam(ctx), &cmdErr))
	assert.Equal(t, core.KindNotFound, cmdErr.Kind)

	require.NoError(t, reg.SetCustomParameter("g1", "Lane", []string{"111111111111111111"}))
	require.NoError(t, c.removeParam(ctx))
	assert.Empty(t, reg.CustomParameters("g1"))
	assert.Equal(t, "✅ Parameter **Lane** removed.", rec.Last().Content)
}

func TestListParams(t *testing.T) {
	reg := teamlist.NewRegistry()
	c := New(reg, &fakeBroadcaster{}, &fakeSaver{})
	require.NoError(t, reg.SetCustomParameter("g1", "Lane", []string{"111111111111111111", "222222222222222222"}))
	require.NoError(t, reg.SetCustomParameter("g1", "Captaincy", []string{"222222222222222222"}))

	ctx, rec := coretest.NewContext(nil, roles)
	require.NoError(t, c.listParams(ctx))
	require.NotNil(t, rec.Last().Embed)
	assert.Equal(t, "**Captaincy**: Mid\n**Lane**: Top, Mid", rec.Last().Embed.Description)
	assert.Equal(t, "Custom Parameters", rec.Last().Embed.Title)
	assert.Equal(t, core.ColorFor(core.ResponseInfo), rec.Last().Embed.Color)
}
