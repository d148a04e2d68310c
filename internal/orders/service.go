package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookswap-backend/internal/inventory"
	"github.com/angelmondragon/bookswap-backend/internal/payments"
	"github.com/angelmondragon/bookswap-backend/internal/rates"
	"github.com/angelmondragon/bookswap-backend/internal/shipments"
	"github.com/angelmondragon/bookswap-backend/pkg/db"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/metrics"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox"
	"github.com/angelmondragon/bookswap-backend/pkg/pagination"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

// Saga steps reported in warnings and compensation metrics.
const (
	stepReplayRepair   = "replay_mark_sold"
	stepCourierCancel  = "courier_cancel_shipment"
	stepRelease        = "inventory_release"
	stepReleaseFailed  = "inventory_release_failed"
	stepNotify         = "notify"
	stepRefundRecord   = "refund_record"
)

// Service is the order saga controller.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error)
	CancelOrderWithRefund(ctx context.Context, input CancelInput) (*SagaResult, error)
	DeclineCommit(ctx context.Context, input DeclineInput) (*SagaResult, error)
	ExpireOrder(ctx context.Context, orderID uuid.UUID, reason string) (*SagaResult, error)

	MarkPaid(ctx context.Context, orderID uuid.UUID, paymentReference string) (*models.Order, error)
	RequestCommit(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	CommitOrder(ctx context.Context, input CommitInput) (*CommitResult, error)
	MarkDelivered(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	UpdateDeliveryStatus(ctx context.Context, trackingNumber, status string) (*models.Order, error)

	GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	ListOrders(ctx context.Context, actor Actor, params pagination.Params, filters ListFilters) (*OrderList, error)
}

type userLookup interface {
	FindByIDs(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]models.User, error)
}

type shipmentService interface {
	CreateShipment(ctx context.Context, orderID uuid.UUID, quote rates.Quote) (*shipments.Result, error)
	CancelShipment(ctx context.Context, trackingNumber, reason string) error
}

type quoteSource interface {
	GetQuotes(ctx context.Context, req rates.QuoteRequest) (rates.QuoteResult, error)
}

type ServiceParams struct {
	Repo      Repository
	Inventory inventory.Ledger
	Users     userLookup
	Refunds   payments.Refunder
	Shipments shipmentService
	// Quotes prices CommitOrder calls that arrive without a chosen quote.
	Quotes   quoteSource
	Outbox   outbox.Emitter
	TxRunner txRunner
	Metrics  *metrics.SagaMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo      Repository
	inventory inventory.Ledger
	users     userLookup
	refunds   payments.Refunder
	shipments shipmentService
	quotes    quoteSource
	outbox    outbox.Emitter
	tx        txRunner
	metrics   *metrics.SagaMetrics
	logg      *logger.Logger
	now       func() time.Time
}

// NewService wires the saga controller.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users lookup required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refunder required")
	}
	if params.Shipments == nil {
		return nil, fmt.Errorf("shipments service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:      params.Repo,
		inventory: params.Inventory,
		users:     params.Users,
		refunds:   params.Refunds,
		shipments: params.Shipments,
		quotes:    params.Quotes,
		outbox:    params.Outbox,
		tx:        params.TxRunner,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// CreateOrder reserves the book and inserts a pending order in one
// transaction. Retries with the same payment reference, or for the same
// buyer, seller and book while an order is active, return the existing order.
func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	if err := validateCreateInput(&input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, input.BuyerID.String())

	if replay, err := s.findReplay(ctx, input); err != nil || replay != nil {
		return replay, err
	}

	parties, err := s.users.FindByIDs(ctx, input.BuyerID, input.SellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load buyer and seller")
	}
	buyer, ok := parties[input.BuyerID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "buyer not found")
	}
	seller, ok := parties[input.SellerID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
	}

	book, err := s.inventory.FindBook(ctx, nil, input.BookID)
	if err != nil {
		return nil, err
	}
	if book.SellerID != input.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book is not listed by this seller")
	}
	if book.Sold || book.AvailableQuantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeItemUnavailable, "book is sold or out of stock").
			WithDetails(map[string]any{"book_id": book.ID.String()})
	}

	shipping := decimal.Zero
	if input.ShippingCost != nil {
		shipping = *input.ShippingCost
	}
	order := &models.Order{
		ID:               uuid.New(),
		PaymentReference: input.PaymentReference,
		BuyerID:          input.BuyerID,
		SellerID:         input.SellerID,
		BookID:           book.ID,
		Item: types.BookSnapshot{
			ID:        book.ID,
			Title:     book.Title,
			Price:     book.Price,
			Condition: string(book.Condition),
			WeightKG:  book.WeightKG,
		},
		Amount:       book.Price.Add(shipping).Round(2),
		Status:       enums.OrderStatusPending,
		RefundStatus: enums.RefundStatusNone,
	}

	var (
		reservation *types.InventorySnapshot
		stepErr     error
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		previous, err := s.inventory.Reserve(ctx, tx, book.ID)
		if err != nil {
			stepErr = err
			return err
		}
		reservation = &previous
		order.Reservation = &previous

		pickup, delivery, err := resolveFulfillment(input, buyer, seller)
		if err != nil {
			stepErr = err
			return err
		}
		order.PickupPoint = pickup
		order.DeliveryPoint = delivery

		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			stepErr = err
			return err
		}
		if err := s.outbox.Emit(ctx, tx, s.orderEvent(order, enums.EventOrderCreated, enums.OrderStatusPending, order.SellerID)); err != nil {
			stepErr = err
			return err
		}
		return nil
	})
	if err == nil {
		s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order created")
		return &CreateOrderResult{Order: order}, nil
	}

	if stepErr != nil && db.IsUniqueViolation(stepErr, "") {
		// A concurrent request with the same key won the insert.
		if replay, findErr := s.findReplay(ctx, input); findErr == nil && replay != nil {
			return replay, nil
		}
	}
	if stepErr == nil && reservation != nil {
		// The transaction failed while committing, so the reservation may
		// have been written without its order.
		s.compensateReservation(ctx, nil, book.ID, *reservation)
	}
	if stepErr != nil {
		if pkgerrors.As(stepErr) != nil {
			return nil, stepErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeOrderCreationFailed, stepErr, "insert order")
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeOrderCreationFailed, err, "create order")
}

func validateCreateInput(input *CreateOrderInput) error {
	if input.BuyerID == uuid.Nil || input.SellerID == uuid.Nil || input.BookID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer, seller and book are required")
	}
	if input.BuyerID == input.SellerID {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer cannot purchase their own book")
	}
	if input.PaymentReference != nil {
		ref := strings.TrimSpace(*input.PaymentReference)
		if ref == "" {
			input.PaymentReference = nil
		} else {
			input.PaymentReference = &ref
		}
	}
	if input.DeliveryType == "" {
		input.DeliveryType = enums.FulfillmentDoor
	}
	if input.PickupType == "" {
		input.PickupType = enums.FulfillmentDoor
	}
	if !input.DeliveryType.IsValid() || !input.PickupType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "fulfillment type must be door or locker")
	}
	if input.DeliveryAddress != nil && input.DeliveryLocker != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery takes either an address or a locker")
	}
	if input.ShippingCost != nil && input.ShippingCost.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping cost cannot be negative")
	}
	return nil
}

func (s *service) findReplay(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	var (
		existing *models.Order
		err      error
	)
	if input.PaymentReference != nil {
		existing, err = s.repo.FindByPaymentReference(ctx, *input.PaymentReference)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup order by payment reference")
		}
	}
	if existing == nil {
		existing, err = s.repo.FindActiveByTriple(ctx, input.BuyerID, input.SellerID, input.BookID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup active order")
		}
	}
	if existing == nil {
		return nil, nil
	}

	result := &CreateOrderResult{Order: existing, Replayed: true}
	// Closed orders already released their book; it may be on sale again.
	if !existing.Status.IsActive() {
		s.logg.Info(s.logg.WithOrderID(ctx, existing.ID.String()), "order request replayed for closed order")
		return result, nil
	}
	if err := s.inventory.MarkSold(ctx, nil, existing.BookID); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"step": stepReplayRepair, "order_id": existing.ID.String()})
		s.logg.WarnErr(logCtx, "failed to repair sold flag on replay", err)
		result.Warnings.Add(pkgerrors.CodeOf(err), stepReplayRepair, err)
	}
	s.logg.Info(s.logg.WithOrderID(ctx, existing.ID.String()), "order request replayed")
	return result, nil
}

// resolveFulfillment picks the collection and delivery points from the
// request, falling back to the parties' stored preferences.
func resolveFulfillment(input CreateOrderInput, buyer, seller models.User) (types.CollectionPoint, types.CollectionPoint, error) {
	var delivery types.CollectionPoint
	switch input.DeliveryType {
	case enums.FulfillmentLocker:
		locker := input.DeliveryLocker
		if locker == nil {
			locker = buyer.PreferredLocker
		}
		if locker == nil || strings.TrimSpace(locker.LocationID) == "" {
			return types.CollectionPoint{}, types.CollectionPoint{}, missingInfo("delivery", "locker location")
		}
		delivery = types.LockerPoint(locker.LocationID, locker.ProviderSlug)
	default:
		addr := input.DeliveryAddress
		if addr == nil {
			addr = buyer.ShippingAddress
		}
		if addr == nil {
			return types.CollectionPoint{}, types.CollectionPoint{}, missingInfo("delivery", "address")
		}
		delivery = types.AddressPoint(*addr)
	}

	var pickup types.CollectionPoint
	switch input.PickupType {
	case enums.FulfillmentLocker:
		locker := input.PickupLocker
		if locker == nil {
			locker = seller.PreferredLocker
		}
		if locker == nil || strings.TrimSpace(locker.LocationID) == "" {
			return types.CollectionPoint{}, types.CollectionPoint{}, missingInfo("pickup", "locker location")
		}
		pickup = types.LockerPoint(locker.LocationID, locker.ProviderSlug)
	default:
		addr := seller.PickupAddress
		if addr == nil {
			addr = seller.ShippingAddress
		}
		if addr == nil {
			return types.CollectionPoint{}, types.CollectionPoint{}, missingInfo("pickup", "address")
		}
		pickup = types.AddressPoint(*addr)
	}

	sides := []struct {
		name  string
		point types.CollectionPoint
	}{{"pickup", pickup}, {"delivery", delivery}}
	for _, side := range sides {
		if err := side.point.Validate(); err != nil {
			return types.CollectionPoint{}, types.CollectionPoint{}, pkgerrors.Wrap(pkgerrors.CodeMissingDeliveryInfo, err, side.name+" point is incomplete").
				WithDetails(map[string]string{"side": side.name})
		}
	}
	req := rates.QuoteRequest{Collection: pickup, Delivery: delivery}
	if err := req.Validate(); err != nil {
		return types.CollectionPoint{}, types.CollectionPoint{}, err
	}
	return pickup, delivery, nil
}

func missingInfo(side, what string) error {
	return pkgerrors.New(pkgerrors.CodeMissingDeliveryInfo, fmt.Sprintf("%s %s is required", side, what)).
		WithDetails(map[string]string{"side": side})
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, order) {
		// Hide existence from strangers.
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, actor Actor, params pagination.Params, filters ListFilters) (*OrderList, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	list, err := s.repo.ListForUser(ctx, actor.UserID, params, filters)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

func canView(actor Actor, order *models.Order) bool {
	return actor.IsAdmin() || actor.UserID == order.BuyerID || actor.UserID == order.SellerID
}

func (s *service) loadOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
