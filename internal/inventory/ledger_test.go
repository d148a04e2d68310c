package inventory

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:inventory_ledger_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true, Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Book{}))
	return db
}

func seedBook(t *testing.T, db *gorm.DB, available int) models.Book {
	t.Helper()
	book := models.Book{
		ID:                uuid.New(),
		SellerID:          uuid.New(),
		Title:             "Calculus: Early Transcendentals",
		Price:             decimal.NewFromInt(350),
		WeightKG:          decimal.NewFromFloat(1.2),
		AvailableQuantity: available,
	}
	require.NoError(t, db.Create(&book).Error)
	return book
}

func loadBook(t *testing.T, db *gorm.DB, id uuid.UUID) models.Book {
	t.Helper()
	var book models.Book
	require.NoError(t, db.First(&book, "id = ?", id).Error)
	return book
}

func TestReserveMarksSoldAndReturnsPreviousCounters(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)
	book := seedBook(t, db, 1)

	prev, err := ledger.Reserve(context.Background(), nil, book.ID)
	require.NoError(t, err)
	assert.Equal(t, types.InventorySnapshot{AvailableQuantity: 1, SoldQuantity: 0, Sold: false}, prev)

	after := loadBook(t, db, book.ID)
	assert.Equal(t, 0, after.AvailableQuantity)
	assert.Equal(t, 1, after.SoldQuantity)
	assert.True(t, after.Sold)
}

func TestReserveTwiceFailsItemUnavailable(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)
	book := seedBook(t, db, 1)

	_, err := ledger.Reserve(context.Background(), nil, book.ID)
	require.NoError(t, err)

	_, err = ledger.Reserve(context.Background(), nil, book.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeItemUnavailable, pkgerrors.CodeOf(err))
}

func TestReserveSoldFlagBlocksEvenWithStock(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)
	book := seedBook(t, db, 3)
	require.NoError(t, db.Model(&models.Book{}).Where("id = ?", book.ID).Update("sold", true).Error)

	_, err := ledger.Reserve(context.Background(), nil, book.ID)
	assert.Equal(t, pkgerrors.CodeItemUnavailable, pkgerrors.CodeOf(err))
}

func TestReserveZeroQuantity(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)
	book := seedBook(t, db, 0)

	_, err := ledger.Reserve(context.Background(), nil, book.ID)
	assert.Equal(t, pkgerrors.CodeItemUnavailable, pkgerrors.CodeOf(err))
}

func TestReserveMissingBook(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)

	_, err := ledger.Reserve(context.Background(), nil, uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestReleaseRestoresAndConservesTotal(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)
	book := seedBook(t, db, 2)
	ctx := context.Background()

	before := loadBook(t, db, book.ID)
	total := before.AvailableQuantity + before.SoldQuantity

	prev, err := ledger.Reserve(ctx, nil, book.ID)
	require.NoError(t, err)
	mid := loadBook(t, db, book.ID)
	assert.Equal(t, total, mid.AvailableQuantity+mid.SoldQuantity)

	require.NoError(t, ledger.Release(ctx, nil, book.ID, prev))
	after := loadBook(t, db, book.ID)
	assert.Equal(t, 2, after.AvailableQuantity)
	assert.Equal(t, 0, after.SoldQuantity)
	assert.False(t, after.Sold)
	assert.Equal(t, total, after.AvailableQuantity+after.SoldQuantity)

	// second release is a no-op
	require.NoError(t, ledger.Release(ctx, nil, book.ID, prev))
	again := loadBook(t, db, book.ID)
	assert.Equal(t, after.AvailableQuantity, again.AvailableQuantity)
	assert.Equal(t, after.SoldQuantity, again.SoldQuantity)
}

func TestReleaseConflictWhenCountersMoved(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)
	book := seedBook(t, db, 1)
	ctx := context.Background()

	prev, err := ledger.Reserve(ctx, nil, book.ID)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Book{}).Where("id = ?", book.ID).Update("available_quantity", 5).Error)

	err = ledger.Release(ctx, nil, book.ID, prev)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
}

func TestReserveRolledBackWithTransaction(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)
	book := seedBook(t, db, 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := ledger.Reserve(context.Background(), tx, book.ID); err != nil {
			return err
		}
		return fmt.Errorf("insert failed")
	})
	require.Error(t, err)

	after := loadBook(t, db, book.ID)
	assert.Equal(t, 1, after.AvailableQuantity)
	assert.False(t, after.Sold)
}

func TestMarkSoldIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)
	book := seedBook(t, db, 1)
	ctx := context.Background()

	require.NoError(t, ledger.MarkSold(ctx, nil, book.ID))
	require.NoError(t, ledger.MarkSold(ctx, nil, book.ID))
	after := loadBook(t, db, book.ID)
	assert.True(t, after.Sold)
	assert.Equal(t, 1, after.AvailableQuantity)
}

func TestFindBook(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)
	book := seedBook(t, db, 1)

	got, err := ledger.FindBook(context.Background(), nil, book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.Title, got.Title)

	_, err = ledger.FindBook(context.Background(), nil, uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}
