package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/pagination"
)

// Repository defines persistence operations for the orders table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByPaymentReference(ctx context.Context, ref string) (*models.Order, error)
	FindActiveByTriple(ctx context.Context, buyerID, sellerID, bookID uuid.UUID) (*models.Order, error)
	FindByTrackingNumber(ctx context.Context, tracking string) (*models.Order, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	UpdateIfStatus(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, updates map[string]any) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params, filters ListFilters) (*OrderList, error)
	ListSimulatedShipments(ctx context.Context, limit int) ([]models.Order, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// txRunner executes fn inside a database transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
