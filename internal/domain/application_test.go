package domain

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/appforge"
)

func sampleDSL() appforge.DSL {
	return appforge.DSL{
		"queries": []any{
			map[string]any{"id": "q1", "type": "sql"},
		},
	}
}

func moduleType() *ApplicationType {
	t := ApplicationTypeModule
	return &t
}

func TestNewApplicationAssignsTimeOrderedID(t *testing.T) {
	app, err := NewApplication(NewApplicationParams{OrganizationID: "org1", Name: "demo"})
	require.NoError(t, err)

	parsed, err := uuid.Parse(app.ID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Equal(t, ApplicationStatusNormal, app.Status())
	assert.NotNil(t, app.EditingDSL())
	assert.False(t, app.CreatedAt().IsZero())

	renamed := app.WithName("other")
	assert.Equal(t, app.ID(), renamed.ID())
	assert.Equal(t, "other", renamed.Name())
	assert.Equal(t, "demo", app.Name())
}

func TestEndToEndQueries(t *testing.T) {
	app := RestoreApplication(ApplicationRecord{
		ID:           "app1",
		EditingDSL:   sampleDSL(),
		PublishedDSL: appforge.DSL{},
	})

	editing, err := app.EditingQueries()
	require.NoError(t, err)
	require.Len(t, editing, 1)
	assert.Equal(t, "q1", editing[0].ID)
	assert.Equal(t, "sql", editing[0].Type)

	live, err := app.LiveQueries()
	require.NoError(t, err)
	assert.Equal(t, editing, live)
}

func TestLiveFallsBackToEditingWhenUnpublished(t *testing.T) {
	dsl := appforge.DSL{
		"queries": []any{map[string]any{"id": "q1"}},
		"ui": map[string]any{
			"compType": "module",
			"comp":     map[string]any{"appId": "mod1"},
		},
	}
	for _, published := range []appforge.DSL{nil, {}} {
		app := RestoreApplication(ApplicationRecord{ID: "a", EditingDSL: dsl, PublishedDSL: published})

		eq, err := app.EditingQueries()
		require.NoError(t, err)
		lq, err := app.LiveQueries()
		require.NoError(t, err)
		assert.Equal(t, eq, lq)

		em, err := app.EditingModules()
		require.NoError(t, err)
		lm, err := app.LiveModules()
		require.NoError(t, err)
		assert.Equal(t, em, lm)
		assert.Equal(t, []string{"mod1"}, lm)
	}
}

func TestLiveUsesPublishedSnapshot(t *testing.T) {
	app := RestoreApplication(ApplicationRecord{
		ID:           "a",
		EditingDSL:   appforge.DSL{"queries": []any{map[string]any{"id": "draft"}}},
		PublishedDSL: appforge.DSL{"queries": []any{map[string]any{"id": "pub"}}},
	})

	app.EditingDSL()["queries"] = []any{map[string]any{"id": "changed"}}

	live, err := app.LiveQueries()
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "pub", live[0].ID)
	assert.True(t, app.IsPublished())
}

func TestDerivedViewsSnapshotOnFirstRead(t *testing.T) {
	app := RestoreApplication(ApplicationRecord{ID: "a", EditingDSL: sampleDSL()})

	first, err := app.EditingQueries()
	require.NoError(t, err)

	app.EditingDSL()["queries"] = []any{map[string]any{"id": "q2"}}

	second, err := app.EditingQueries()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "q1", second[0].ID)

	fresh := app.WithEditingDSL(app.EditingDSL())
	third, err := fresh.EditingQueries()
	require.NoError(t, err)
	assert.Equal(t, "q2", third[0].ID)
}

func TestFindQuery(t *testing.T) {
	app := RestoreApplication(ApplicationRecord{ID: "a", EditingDSL: sampleDSL()})

	q, err := app.FindQuery(appforge.ViewModeEditing, "q1")
	require.NoError(t, err)
	assert.Equal(t, "q1", q.ID)

	_, err = app.FindQuery(appforge.ViewModeEditing, "unknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, CodeQueryNotFound, ErrorCode(err))

	_, err = app.FindQuery(appforge.ViewModeLive, "q1")
	assert.NoError(t, err)
}

func TestFindQueryPropagatesDataFormatError(t *testing.T) {
	app := RestoreApplication(ApplicationRecord{
		ID:         "a",
		EditingDSL: appforge.DSL{"queries": []any{map[string]any{"id": 7}}},
	})

	_, err := app.FindQuery(appforge.ViewModeEditing, "q1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataFormat))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestVisibilityFlagsDefaultToFalse(t *testing.T) {
	app := RestoreApplication(ApplicationRecord{ID: "a"})
	assert.False(t, app.IsPublicToAll())
	assert.False(t, app.IsPublicToMarketplace())
	assert.False(t, app.IsAgencyProfile())

	yes := true
	public := app.WithVisibility(&yes, nil, nil)
	assert.True(t, public.IsPublicToAll())
	assert.False(t, app.IsPublicToAll())

	updated := public.WithVisibility(nil, &yes, nil)
	assert.True(t, updated.IsPublicToAll())
	assert.True(t, updated.IsPublicToMarketplace())
	assert.False(t, updated.IsAgencyProfile())
	assert.False(t, public.IsPublicToMarketplace())
}

func TestDerivedInstanceRemembersBase(t *testing.T) {
	stored := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return stored.Add(1500 * time.Nanosecond) }
	app := RestoreApplication(ApplicationRecord{ID: "a", UpdatedAt: stored}, WithClock(clock))
	assert.True(t, app.BaseUpdatedAt().IsZero())

	renamed := app.WithName("renamed")
	assert.Equal(t, stored, renamed.BaseUpdatedAt())
	assert.Equal(t, stored.Add(time.Microsecond), renamed.UpdatedAt())

	// a clock that does not advance still yields increasing timestamps
	again := renamed.WithName("again")
	assert.Equal(t, renamed.UpdatedAt(), again.BaseUpdatedAt())
	assert.True(t, again.UpdatedAt().After(renamed.UpdatedAt()))
}

func TestTypeDefaultsToApplication(t *testing.T) {
	app := RestoreApplication(ApplicationRecord{ID: "a"})
	assert.Equal(t, ApplicationTypeApplication, app.Type())
	assert.Equal(t, ApplicationStatusNormal, app.Status())
}

func TestLiveContainerSize(t *testing.T) {
	dsl := appforge.DSL{
		"ui": map[string]any{
			"comp": map[string]any{
				"container": map[string]any{
					"containerSize": map[string]any{"width": 480.0, "height": 320.0},
				},
			},
		},
	}

	app := RestoreApplication(ApplicationRecord{ID: "a", EditingDSL: dsl})
	size, err := app.LiveContainerSize()
	require.NoError(t, err)
	assert.Nil(t, size)

	mod := RestoreApplication(ApplicationRecord{ID: "m", ApplicationType: moduleType(), EditingDSL: dsl})
	size, err = mod.LiveContainerSize()
	require.NoError(t, err)
	require.NotNil(t, size)
	assert.Equal(t, appforge.ContainerSize{Width: 480, Height: 320}, *size)
}

func TestPublishClonesEditing(t *testing.T) {
	app := RestoreApplication(ApplicationRecord{ID: "a", EditingDSL: sampleDSL()})
	published := app.Publish()

	require.True(t, published.IsPublished())
	assert.Equal(t, app.EditingDSL(), published.PublishedDSL())

	published.EditingDSL()["queries"] = []any{}
	live, err := published.LiveQueries()
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "q1", live[0].ID)
}

func TestRecordExcludesDerivedState(t *testing.T) {
	app := RestoreApplication(ApplicationRecord{ID: "a", OrganizationID: "o", EditingDSL: sampleDSL()})
	_, _ = app.EditingQueries()

	rec := app.Record()
	assert.Equal(t, "a", rec.ID)
	assert.Equal(t, "o", rec.OrganizationID)
	assert.Equal(t, sampleDSL(), rec.EditingDSL)
}

func TestConcurrentFirstAccessComputesOnce(t *testing.T) {
	var calls atomic.Int32
	derive := DefaultDerivations()
	derive.Queries = func(dsl appforge.DSL) ([]appforge.Query, error) {
		calls.Add(1)
		return DeriveQueries(dsl)
	}

	app := RestoreApplication(ApplicationRecord{ID: "a", EditingDSL: sampleDSL()}, WithDerivations(derive))

	const readers = 64
	results := make([][]appforge.Query, readers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			q, err := app.LiveQueries()
			assert.NoError(t, err)
			results[i] = q
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 1; i < readers; i++ {
		assert.Same(t, &results[0][0], &results[i][0])
	}

	_, _ = app.EditingQueries()
	assert.Equal(t, int32(2), calls.Load())
}

func TestDerivationFailureIsMemoized(t *testing.T) {
	var calls atomic.Int32
	derive := DefaultDerivations()
	derive.Modules = func(dsl appforge.DSL) ([]string, error) {
		calls.Add(1)
		return DeriveDependentModules(dsl)
	}
	dsl := appforge.DSL{"compType": "module", "comp": map[string]any{"appId": 3}}
	app := RestoreApplication(ApplicationRecord{ID: "a", EditingDSL: dsl}, WithDerivations(derive))

	_, err1 := app.EditingModules()
	_, err2 := app.EditingModules()
	assert.True(t, errors.Is(err1, ErrDataFormat))
	assert.Equal(t, err1, err2)
	assert.Equal(t, int32(1), calls.Load())
}
