package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/appforge"
)

func TestSelectLive(t *testing.T) {
	editing := appforge.DSL{"v": "editing"}
	published := appforge.DSL{"v": "published"}

	assert.Equal(t, published, SelectLive(editing, published))
	assert.Equal(t, editing, SelectLive(editing, appforge.DSL{}))
	assert.Equal(t, editing, SelectLive(editing, nil))
}

func TestDeriveQueriesAbsentField(t *testing.T) {
	for _, dsl := range []appforge.DSL{nil, {}, {"queries": nil}} {
		queries, err := DeriveQueries(dsl)
		require.NoError(t, err)
		assert.NotNil(t, queries)
		assert.Empty(t, queries)
	}
}

func TestDeriveQueriesMalformed(t *testing.T) {
	cases := map[string]appforge.DSL{
		"not an array":    {"queries": map[string]any{"id": "q1"}},
		"scalar element":  {"queries": []any{map[string]any{"id": "q1"}, "q2"}},
		"missing id":      {"queries": []any{map[string]any{"name": "q"}}},
		"empty id":        {"queries": []any{map[string]any{"id": ""}}},
		"numeric id":      {"queries": []any{map[string]any{"id": 1.0}}},
		"trailing broken": {"queries": []any{map[string]any{"id": "q1"}, map[string]any{}}},
	}
	for name, dsl := range cases {
		t.Run(name, func(t *testing.T) {
			queries, err := DeriveQueries(dsl)
			assert.Nil(t, queries)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDataFormat))
			assert.Equal(t, CodeDataFormat, ErrorCode(err))
		})
	}
}

func TestDeriveQueriesReportsIndex(t *testing.T) {
	_, err := DeriveQueries(appforge.DSL{"queries": []any{map[string]any{"id": "q1"}, 42.0}})
	var dfe DataFormatError
	require.True(t, errors.As(err, &dfe))
	assert.Equal(t, 1, dfe.Index)
	assert.Equal(t, "queries", dfe.Field)
}

func TestDeriveQueriesKeepsConfigAndDeduplicates(t *testing.T) {
	dsl := appforge.DSL{"queries": []any{
		map[string]any{"id": "q1", "name": "users", "compType": "restApi", "comp": map[string]any{"path": "/users"}},
		map[string]any{"id": "q1", "name": "dup"},
		map[string]any{"id": "q2", "type": "sql"},
	}}

	queries, err := DeriveQueries(dsl)
	require.NoError(t, err)
	require.Len(t, queries, 2)

	assert.Equal(t, "users", queries[0].Name)
	assert.Equal(t, "restApi", queries[0].Type)
	assert.Equal(t, map[string]any{"path": "/users"}, queries[0].Config["comp"])
	assert.NotContains(t, queries[0].Config, "id")
	assert.Equal(t, "q2", queries[1].ID)
}

func TestDeriveDependentModulesNested(t *testing.T) {
	dsl := appforge.DSL{
		"ui": map[string]any{
			"comp": map[string]any{
				"container": map[string]any{
					"items": []any{
						map[string]any{"compType": "module", "comp": map[string]any{"appId": "b"}},
						map[string]any{
							"compType": "tabs",
							"comp": map[string]any{
								"tabs": []any{
									[]any{map[string]any{"compType": "module", "comp": map[string]any{"appId": "a"}}},
									map[string]any{"compType": "module", "comp": map[string]any{"appId": "b"}},
								},
							},
						},
						map[string]any{"compType": "module", "comp": map[string]any{}},
						map[string]any{"compType": "module", "comp": map[string]any{"appId": ""}},
						map[string]any{"compType": "button", "comp": map[string]any{"appId": "ignored"}},
					},
				},
			},
		},
	}

	modules, err := DeriveDependentModules(dsl)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, modules)
}

func TestDeriveDependentModulesEmpty(t *testing.T) {
	modules, err := DeriveDependentModules(nil)
	require.NoError(t, err)
	assert.Empty(t, modules)
}

func TestDeriveDependentModulesMalformed(t *testing.T) {
	dsl := appforge.DSL{"items": []any{
		map[string]any{"compType": "module", "comp": map[string]any{"appId": []any{"x"}}},
	}}
	_, err := DeriveDependentModules(dsl)
	assert.True(t, errors.Is(err, ErrDataFormat))
}

func TestDeriveContainerSize(t *testing.T) {
	size, err := DeriveContainerSize(appforge.DSL{})
	require.NoError(t, err)
	assert.Nil(t, size)

	withSize := func(v any) appforge.DSL {
		return appforge.DSL{"ui": map[string]any{"comp": map[string]any{"container": map[string]any{"containerSize": v}}}}
	}

	size, err = DeriveContainerSize(withSize(map[string]any{"width": 300.0, "height": 200.0}))
	require.NoError(t, err)
	assert.Equal(t, &appforge.ContainerSize{Width: 300, Height: 200}, size)

	size, err = DeriveContainerSize(withSize(map[string]any{"width": 300.0}))
	require.NoError(t, err)
	assert.Equal(t, &appforge.ContainerSize{Width: 300}, size)

	_, err = DeriveContainerSize(withSize("big"))
	assert.True(t, errors.Is(err, ErrDataFormat))

	_, err = DeriveContainerSize(withSize(map[string]any{"width": "300px"}))
	assert.True(t, errors.Is(err, ErrDataFormat))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeApplicationNotFound, ErrorCode(NotFoundError{Resource: "application"}))
	assert.Equal(t, CodeInvalidState, ErrorCode(StateError{Op: "publish", Status: ApplicationStatusRecycled}))
	assert.Equal(t, CodeConflict, ErrorCode(ConflictError{Resource: "application", ID: "a"}))
	assert.Equal(t, CodeValidation, ErrorCode(ValidationError{Err: errors.New("bad")}))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("boom")))
}
