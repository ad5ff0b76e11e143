package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/appforge"
	"github.com/totegamma/appforge/internal/domain"
	"github.com/totegamma/appforge/internal/usecase"
)

type countingRepo struct {
	mu        sync.Mutex
	apps      map[string]*domain.Application
	gets      atomic.Int32
	updateErr error

	// loaded, when set, runs after a Get has read the stored record
	loaded func()
}

func (c *countingRepo) Create(ctx context.Context, app *domain.Application) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apps[app.ID()] = app
	return nil
}

func (c *countingRepo) Get(ctx context.Context, id string) (*domain.Application, error) {
	c.gets.Add(1)
	c.mu.Lock()
	app, ok := c.apps[id]
	loaded := c.loaded
	c.mu.Unlock()
	if !ok {
		return nil, notFound(id)
	}
	// storage hands out a fresh instance on every load
	fresh := domain.RestoreApplication(app.Record())
	if loaded != nil {
		loaded()
	}
	return fresh, nil
}

func (c *countingRepo) ListByOrganization(ctx context.Context, orgID string) ([]*domain.Application, error) {
	return nil, nil
}

// Update rejects copies that were not derived from the stored version.
func (c *countingRepo) Update(ctx context.Context, app *domain.Application) error {
	if c.updateErr != nil {
		return c.updateErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.apps[app.ID()]
	if !ok {
		return notFound(app.ID())
	}
	if !current.UpdatedAt().Equal(app.BaseUpdatedAt()) {
		return domain.ConflictError{Resource: "application", ID: app.ID(), Reason: "modified concurrently"}
	}
	c.apps[app.ID()] = app
	return nil
}

func (c *countingRepo) Publish(ctx context.Context, app *domain.Application) error {
	return c.Update(ctx, app)
}

func (c *countingRepo) ListSnapshots(ctx context.Context, id string, limit int) ([]usecase.Snapshot, error) {
	return nil, nil
}

func (c *countingRepo) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.apps[id]; !ok {
		return notFound(id)
	}
	delete(c.apps, id)
	return nil
}

func (c *countingRepo) stored(id string) *domain.Application {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apps[id]
}

func newCountingRepo(recs ...domain.ApplicationRecord) *countingRepo {
	c := &countingRepo{apps: map[string]*domain.Application{}}
	for _, rec := range recs {
		c.apps[rec.ID] = domain.RestoreApplication(rec)
	}
	return c
}

func TestCachedRepositoryReusesInstance(t *testing.T) {
	inner := newCountingRepo(domain.ApplicationRecord{ID: "a1", EditingDSL: appforge.DSL{}})
	repo := NewCachedApplicationRepository(inner, nil, time.Minute, time.Minute)
	ctx := context.Background()

	first, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	second, err := repo.Get(ctx, "a1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), inner.gets.Load())
}

func TestCachedRepositoryWriteReplacesEntry(t *testing.T) {
	inner := newCountingRepo(domain.ApplicationRecord{ID: "a1", Name: "before"})
	repo := NewCachedApplicationRepository(inner, nil, time.Minute, time.Minute)
	ctx := context.Background()

	cached, err := repo.Get(ctx, "a1")
	require.NoError(t, err)

	renamed := cached.WithName("after")
	require.NoError(t, repo.Update(ctx, renamed))

	got, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Same(t, renamed, got)
	assert.Equal(t, int32(1), inner.gets.Load())
}

func TestCachedRepositoryFailedWriteDropsEntry(t *testing.T) {
	inner := newCountingRepo(domain.ApplicationRecord{ID: "a1", Name: "before"})
	repo := NewCachedApplicationRepository(inner, nil, time.Minute, time.Minute)
	ctx := context.Background()

	cached, err := repo.Get(ctx, "a1")
	require.NoError(t, err)

	inner.updateErr = errors.New("db down")
	assert.Error(t, repo.Update(ctx, cached.WithName("after")))

	got, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "before", got.Name())
	assert.Equal(t, int32(2), inner.gets.Load())
}

func TestCachedRepositoryDelete(t *testing.T) {
	inner := newCountingRepo(domain.ApplicationRecord{ID: "a1"})
	repo := NewCachedApplicationRepository(inner, nil, time.Minute, time.Minute)
	ctx := context.Background()

	_, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, "a1"))

	_, err = repo.Get(ctx, "a1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCachedRepositoryDoesNotCacheMisses(t *testing.T) {
	inner := newCountingRepo()
	repo := NewCachedApplicationRepository(inner, nil, time.Minute, time.Minute)
	ctx := context.Background()

	_, err := repo.Get(ctx, "nope")
	assert.Error(t, err)
	_, err = repo.Get(ctx, "nope")
	assert.Error(t, err)
	assert.Equal(t, int32(2), inner.gets.Load())
}

func TestCachedRepositoryLoadDoesNotOverwriteNewerWrite(t *testing.T) {
	inner := newCountingRepo(domain.ApplicationRecord{ID: "a1", Name: "old"})
	repo := NewCachedApplicationRepository(inner, nil, time.Minute, time.Minute)
	ctx := context.Background()

	loadedOld := make(chan struct{})
	release := make(chan struct{})
	inner.loaded = func() {
		close(loadedOld)
		<-release
	}

	done := make(chan *domain.Application)
	go func() {
		app, err := repo.Get(ctx, "a1")
		assert.NoError(t, err)
		done <- app
	}()

	<-loadedOld
	inner.mu.Lock()
	inner.loaded = nil
	inner.mu.Unlock()

	renamed := inner.stored("a1").WithName("new")
	require.NoError(t, repo.Update(ctx, renamed))

	close(release)
	slow := <-done
	assert.Equal(t, "old", slow.Name())

	got, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name())
	assert.Same(t, renamed, got)

	yes := true
	require.NoError(t, repo.Update(ctx, got.WithVisibility(&yes, nil, nil)))
	assert.Equal(t, "new", inner.stored("a1").Name())
	assert.True(t, inner.stored("a1").IsPublicToAll())
}

func TestCachedRepositoryStaleReplicaCannotOverwrite(t *testing.T) {
	inner := newCountingRepo(domain.ApplicationRecord{ID: "a1", Name: "old"})
	first := NewCachedApplicationRepository(inner, nil, time.Minute, time.Minute)
	second := NewCachedApplicationRepository(inner, nil, time.Minute, time.Minute)
	ctx := context.Background()

	fromFirst, err := first.Get(ctx, "a1")
	require.NoError(t, err)
	fromSecond, err := second.Get(ctx, "a1")
	require.NoError(t, err)

	require.NoError(t, first.Update(ctx, fromFirst.WithName("new")))

	yes := true
	err = second.Update(ctx, fromSecond.WithVisibility(&yes, nil, nil))
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Equal(t, "new", inner.stored("a1").Name())
	assert.False(t, inner.stored("a1").IsPublicToAll())

	// the rejected write dropped the stale entry
	reloaded, err := second.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "new", reloaded.Name())
	require.NoError(t, second.Update(ctx, reloaded.WithVisibility(&yes, nil, nil)))
	assert.Equal(t, "new", inner.stored("a1").Name())
	assert.True(t, inner.stored("a1").IsPublicToAll())
}
