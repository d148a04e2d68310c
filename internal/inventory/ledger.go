package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

// Ledger owns the availability counters on books. Every method accepts an
// optional transaction; a nil tx runs against the ledger's base connection.
type Ledger interface {
	FindBook(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (*models.Book, error)
	Reserve(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (types.InventorySnapshot, error)
	Release(ctx context.Context, tx *gorm.DB, bookID uuid.UUID, previous types.InventorySnapshot) error
	MarkSold(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error
}

type ledger struct {
	db *gorm.DB
}

// NewLedger binds the ledger to db.
func NewLedger(db *gorm.DB) Ledger {
	return &ledger{db: db}
}

func (l *ledger) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return l.db.WithContext(ctx)
}

func (l *ledger) FindBook(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (*models.Book, error) {
	var book models.Book
	if err := l.conn(ctx, tx).First(&book, "id = ?", bookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load book")
	}
	return &book, nil
}

func (l *ledger) readCounters(db *gorm.DB, bookID uuid.UUID, lock bool) (types.InventorySnapshot, error) {
	var row models.Book
	q := db.Model(&models.Book{}).Select("id", "available_quantity", "sold_quantity", "sold")
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("id = ?", bookID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.InventorySnapshot{}, pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
		}
		return types.InventorySnapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read inventory")
	}
	return types.InventorySnapshot{
		AvailableQuantity: row.AvailableQuantity,
		SoldQuantity:      row.SoldQuantity,
		Sold:              row.Sold,
	}, nil
}

// Reserve takes one unit with a conditional update. A concurrent reservation
// that wins the row makes this one affect zero rows and fail with
// ITEM_UNAVAILABLE instead of overselling.
func (l *ledger) Reserve(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (types.InventorySnapshot, error) {
	db := l.conn(ctx, tx)

	previous, err := l.readCounters(db, bookID, true)
	if err != nil {
		return types.InventorySnapshot{}, err
	}
	if previous.Sold || previous.AvailableQuantity < 1 {
		return types.InventorySnapshot{}, unavailable(bookID)
	}

	res := db.Exec(`
		UPDATE books
		SET available_quantity = available_quantity - 1,
			sold_quantity = sold_quantity + 1,
			sold = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND sold = ? AND available_quantity >= 1
	`, true, bookID, false)
	if res.Error != nil {
		return types.InventorySnapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
	}
	if res.RowsAffected == 0 {
		return types.InventorySnapshot{}, unavailable(bookID)
	}
	return previous, nil
}

// Release writes previous back, but only while the row still holds exactly
// the reserved counters. Releasing twice is a no-op.
func (l *ledger) Release(ctx context.Context, tx *gorm.DB, bookID uuid.UUID, previous types.InventorySnapshot) error {
	if previous.AvailableQuantity < 0 || previous.SoldQuantity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "inventory snapshot has negative counters")
	}
	db := l.conn(ctx, tx)
	reserved := previous.Reserved()

	res := db.Exec(`
		UPDATE books
		SET available_quantity = ?,
			sold_quantity = ?,
			sold = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND available_quantity = ? AND sold_quantity = ?
	`, previous.AvailableQuantity, previous.SoldQuantity, previous.Sold,
		bookID, reserved.AvailableQuantity, reserved.SoldQuantity)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release inventory")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	current, err := l.readCounters(db, bookID, false)
	if err != nil {
		return err
	}
	if current == previous {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "inventory changed since reservation").
		WithDetails(map[string]any{
			"book_id":  bookID.String(),
			"current":  current,
			"previous": previous,
		})
}

// MarkSold sets the sold flag without touching quantities. It repairs books
// whose order exists but whose flag was lost.
func (l *ledger) MarkSold(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error {
	res := l.conn(ctx, tx).Exec(`
		UPDATE books SET sold = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND sold = ?
	`, true, bookID, false)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark book sold")
	}
	return nil
}

func unavailable(bookID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeItemUnavailable, "book is sold or out of stock").
		WithDetails(map[string]any{"book_id": bookID.String()})
}
