package cache

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/citidesk/internal/store"
	"github.com/citidesk/pkg/models"
)

const catalogKey = "services"

// Catalog is an in-process read-through cache of the service catalogue.
// The catalogue changes rarely and is read on every ticket form.
type Catalog struct {
	reader store.Reader
	local  *gocache.Cache
}

func NewCatalog(r store.Reader, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		reader: r,
		local:  gocache.New(ttl, 2*ttl),
	}
}

// List returns every service, ordered by id.
func (c *Catalog) List(ctx context.Context) ([]*models.Service, error) {
	if cached, found := c.local.Get(catalogKey); found {
		return cached.([]*models.Service), nil
	}

	services, err := c.reader.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	c.local.Set(catalogKey, services, gocache.DefaultExpiration)
	return services, nil
}

func (c *Catalog) Get(ctx context.Context, id int64) (*models.Service, error) {
	key := "service:" + strconv.FormatInt(id, 10)
	if cached, found := c.local.Get(key); found {
		return cached.(*models.Service), nil
	}

	svc, err := c.reader.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	c.local.Set(key, svc, gocache.DefaultExpiration)
	return svc, nil
}

// Invalidate drops every cached entry.
func (c *Catalog) Invalidate() {
	c.local.Flush()
}
