package shipments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
)

// Repository reads orders and writes shipment metadata onto them.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *Repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// ApplyShipment writes the shipment block and moves a committed order to
// shipped. It reports false when the order was no longer committed.
func (r *Repository) ApplyShipment(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) (bool, error) {
	updates["status"] = enums.OrderStatusShipped
	res := r.conn(ctx, tx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, enums.OrderStatusCommitted).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// ReplaceSimulated swaps a simulated shipment for a real one. It reports
// false when the order no longer carries a simulated shipment.
func (r *Repository) ReplaceSimulated(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) (bool, error) {
	res := r.conn(ctx, tx).Model(&models.Order{}).
		Where("id = ? AND shipment_simulated = ? AND status = ?", id, true, enums.OrderStatusShipped).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}
