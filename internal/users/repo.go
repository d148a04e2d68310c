// Package users reads the buyer and seller profiles the order flow needs:
// delivery addresses and preferred lockers.
package users

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByIDs loads the users matching ids, keyed by id. Unknown and
// duplicate ids are ignored; callers check the map for who is missing.
func (r *Repository) FindByIDs(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]models.User, error) {
	ids = slices.DeleteFunc(slices.Clone(ids), func(id uuid.UUID) bool { return id == uuid.Nil })
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	ids = slices.Compact(ids)

	found := make(map[uuid.UUID]models.User, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var rows []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, u := range rows {
		found[u.ID] = u
	}
	return found, nil
}
