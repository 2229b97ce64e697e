package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestToStarlarkAndBack_RoundTrips(t *testing.T) {
	in := map[string]any{
		"name":   "widget",
		"count":  int64(3),
		"active": true,
		"tags":   []any{"a", "b"},
	}
	sv, err := toStarlark(in)
	require.NoError(t, err)

	out, err := fromStarlark(sv)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestToStarlark_IntegralFloatBecomesInt(t *testing.T) {
	sv, err := toStarlark(float64(4))
	require.NoError(t, err)
	_, ok := sv.(starlark.Int)
	assert.True(t, ok)
}

func TestKwargsToInput_MergesPositionalDictAndKwargs(t *testing.T) {
	dict := starlark.NewDict(1)
	require.NoError(t, dict.SetKey(starlark.String("a"), starlark.String("1")))
	kwargs := []starlark.Tuple{{starlark.String("b"), starlark.MakeInt(2)}}

	input, err := kwargsToInput(starlark.Tuple{dict}, kwargs)
	require.NoError(t, err)
	assert.Equal(t, "1", input["a"])
	assert.Equal(t, int64(2), input["b"])
}
