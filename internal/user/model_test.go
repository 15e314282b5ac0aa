package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citidesk/pkg/models"
)

type countingStore struct {
	users map[int64]*models.User
	calls int
}

var errMissing = errors.New("missing")

func (s *countingStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.calls++
	u, ok := s.users[id]
	if !ok {
		return nil, errMissing
	}
	return u, nil
}

func TestDirectoryCachesLookups(t *testing.T) {
	s := &countingStore{users: map[int64]*models.User{1: {ID: 1, Name: "Rahim", Email: "rahim@example.com"}}}
	d := NewDirectory(s, time.Minute)

	u, err := d.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "rahim@example.com", u.Email)

	u.Email = "changed@example.com"
	again, err := d.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "rahim@example.com", again.Email)
	assert.Equal(t, 1, s.calls)
}

func TestDirectoryDoesNotCacheErrors(t *testing.T) {
	s := &countingStore{users: map[int64]*models.User{}}
	d := NewDirectory(s, time.Minute)

	_, err := d.GetUser(context.Background(), 2)
	assert.ErrorIs(t, err, errMissing)
	_, err = d.GetUser(context.Background(), 2)
	assert.ErrorIs(t, err, errMissing)
	assert.Equal(t, 2, s.calls)
}
