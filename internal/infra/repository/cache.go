package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/totegamma/appforge/internal/domain"
	"github.com/totegamma/appforge/internal/usecase"
)

const memcacheKeyPrefix = "appforge:application:"

// CachedApplicationRepository fronts another repository with two cache
// levels. The local level keeps *domain.Application instances, so views
// memoized on an instance are reused by later requests. The shared level
// keeps the serialized record in memcached and is skipped when mc is nil.
//
// Writes store the new instance in both levels. A load that overlaps a write
// never replaces what the write stored: local fills are dropped when a write
// happened since the load started, and shared fills only use Add.
type CachedApplicationRepository struct {
	inner     usecase.ApplicationRepository
	local     *cache.Cache
	mc        *memcache.Client
	sharedTTL time.Duration

	mu         sync.Mutex
	generation uint64
}

func NewCachedApplicationRepository(
	inner usecase.ApplicationRepository,
	mc *memcache.Client,
	localTTL time.Duration,
	sharedTTL time.Duration,
) *CachedApplicationRepository {
	return &CachedApplicationRepository{
		inner:     inner,
		local:     cache.New(localTTL, 2*localTTL),
		mc:        mc,
		sharedTTL: sharedTTL,
	}
}

func (r *CachedApplicationRepository) Get(ctx context.Context, id string) (*domain.Application, error) {
	if cached, found := r.local.Get(id); found {
		return cached.(*domain.Application), nil
	}

	gen := r.currentGeneration()
	if app, ok := r.getShared(id); ok {
		r.fill(gen, app)
		return app, nil
	}

	app, err := r.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.fill(gen, app) {
		r.addShared(gen, app)
	}
	return app, nil
}

func (r *CachedApplicationRepository) Create(ctx context.Context, app *domain.Application) error {
	if err := r.inner.Create(ctx, app); err != nil {
		return err
	}
	r.mu.Lock()
	r.generation++
	r.local.Set(app.ID(), app, cache.DefaultExpiration)
	r.mu.Unlock()
	return nil
}

func (r *CachedApplicationRepository) ListByOrganization(ctx context.Context, orgID string) ([]*domain.Application, error) {
	return r.inner.ListByOrganization(ctx, orgID)
}

func (r *CachedApplicationRepository) Update(ctx context.Context, app *domain.Application) error {
	return r.write(app, r.inner.Update(ctx, app))
}

func (r *CachedApplicationRepository) Publish(ctx context.Context, app *domain.Application) error {
	return r.write(app, r.inner.Publish(ctx, app))
}

func (r *CachedApplicationRepository) ListSnapshots(ctx context.Context, id string, limit int) ([]usecase.Snapshot, error) {
	return r.inner.ListSnapshots(ctx, id, limit)
}

func (r *CachedApplicationRepository) Delete(ctx context.Context, id string) error {
	err := r.inner.Delete(ctx, id)
	r.mu.Lock()
	r.generation++
	r.local.Delete(id)
	r.mu.Unlock()
	r.deleteShared(id)
	return err
}

// write keeps the stored instance in both levels when the write succeeded
// and drops the entries otherwise, so a stale copy rejected by storage is
// reloaded on the next read.
func (r *CachedApplicationRepository) write(app *domain.Application, err error) error {
	r.mu.Lock()
	r.generation++
	if err != nil {
		r.local.Delete(app.ID())
	} else {
		r.local.Set(app.ID(), app, cache.DefaultExpiration)
	}
	r.mu.Unlock()

	if err != nil {
		r.deleteShared(app.ID())
		return err
	}
	r.setShared(app)
	return nil
}

func (r *CachedApplicationRepository) currentGeneration() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// fill caches a loaded instance unless a write happened after gen was taken.
func (r *CachedApplicationRepository) fill(gen uint64, app *domain.Application) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		return false
	}
	r.local.Set(app.ID(), app, cache.DefaultExpiration)
	return true
}

func (r *CachedApplicationRepository) deleteShared(id string) {
	if r.mc == nil {
		return
	}
	err := r.mc.Delete(memcacheKeyPrefix + id)
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		log.Warn().Err(err).Str("applicationId", id).Msg("memcache delete failed")
	}
}

func (r *CachedApplicationRepository) getShared(id string) (*domain.Application, bool) {
	if r.mc == nil {
		return nil, false
	}

	item, err := r.mc.Get(memcacheKeyPrefix + id)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			log.Warn().Err(err).Str("applicationId", id).Msg("memcache get failed")
		}
		return nil, false
	}

	var rec domain.ApplicationRecord
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		log.Warn().Err(err).Str("applicationId", id).Msg("broken memcache entry")
		return nil, false
	}
	return domain.RestoreApplication(rec), true
}

func (r *CachedApplicationRepository) setShared(app *domain.Application) {
	item, ok := r.sharedItem(app)
	if !ok {
		return
	}
	err := r.mc.Set(item)
	if err != nil {
		log.Warn().Err(err).Str("applicationId", app.ID()).Msg("memcache set failed")
	}
}

// addShared stores a loaded record only if no entry exists, so it cannot
// replace a record a writer stored meanwhile. A delete that raced the add is
// repeated.
func (r *CachedApplicationRepository) addShared(gen uint64, app *domain.Application) {
	item, ok := r.sharedItem(app)
	if !ok {
		return
	}
	err := r.mc.Add(item)
	if err != nil {
		if !errors.Is(err, memcache.ErrNotStored) {
			log.Warn().Err(err).Str("applicationId", app.ID()).Msg("memcache add failed")
		}
		return
	}
	if r.currentGeneration() != gen {
		r.deleteShared(app.ID())
	}
}

func (r *CachedApplicationRepository) sharedItem(app *domain.Application) (*memcache.Item, bool) {
	if r.mc == nil {
		return nil, false
	}

	value, err := json.Marshal(app.Record())
	if err != nil {
		log.Warn().Err(err).Str("applicationId", app.ID()).Msg("encode memcache entry failed")
		return nil, false
	}

	return &memcache.Item{
		Key:        memcacheKeyPrefix + app.ID(),
		Value:      value,
		Expiration: int32(r.sharedTTL / time.Second),
	}, true
}

var _ usecase.ApplicationRepository = (*CachedApplicationRepository)(nil)
