// Package user resolves the citizen behind a ticket. Registration and
// login live outside this service; only the lookup is needed here.
package user

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/citidesk/pkg/models"
)

type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Directory is a Store with a short-lived in-process cache in front.
type Directory struct {
	store Store
	cache *gocache.Cache
}

func NewDirectory(s Store, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Directory{store: s, cache: gocache.New(ttl, 2*ttl)}
}

func (d *Directory) GetUser(ctx context.Context, id int64) (*models.User, error) {
	key := strconv.FormatInt(id, 10)
	if cached, found := d.cache.Get(key); found {
		u := *cached.(*models.User)
		return &u, nil
	}

	u, err := d.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	d.cache.Set(key, u, gocache.DefaultExpiration)

	c := *u
	return &c, nil
}
