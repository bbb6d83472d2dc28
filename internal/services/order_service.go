package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	orderNumberPrefix      = "SO-"
	orderNumberSuffixLen   = 10
	maxOrderNumberAttempts = 3
	maxOrderLines          = 100
	maxNotesLength         = 1000
	maxStatusNoteLength    = 500
	defaultCurrency        = "TRY"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderInsufficientStock indicates the conditional stock decrement lost a race.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderConflict indicates a persistent uniqueness conflict.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

// NotificationOrderStatusChanged is sent to the customer after an admin status update.
const NotificationOrderStatusChanged = "order.status_changed"

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Customers   repositories.CustomerRepository
	Catalog     repositories.CatalogRepository
	Orders      repositories.OrderRepository
	Payments    repositories.PaymentRepository
	UnitOfWork  repositories.UnitOfWork
	Pricing     PricingService
	Addresses   AddressService
	Settings    SettingsService
	Publisher   NotificationPublisher
	Currency    string
	AdminEmail  string
	Clock       func() time.Time
	IDGenerator func() string
	// OrderNumbers overrides the order number generator.
	OrderNumbers func(now time.Time) string
	Logger       Logger
}

type orderService struct {
	customers    repositories.CustomerRepository
	catalog      repositories.CatalogRepository
	orders       repositories.OrderRepository
	payments     repositories.PaymentRepository
	unitOfWork   repositories.UnitOfWork
	pricing      PricingService
	addresses    AddressService
	settings     SettingsService
	notifier     *notifier
	currency     string
	clock        func() time.Time
	newID        func() string
	orderNumbers func(time.Time) string
	sanitizer    *bluemonday.Policy
	logger       Logger
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Customers == nil:
		return nil, errors.New("order service: customer repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("order service: catalog repository is required")
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Payments == nil:
		return nil, errors.New("order service: payment repository is required")
	case deps.Pricing == nil:
		return nil, errors.New("order service: pricing service is required")
	case deps.Addresses == nil:
		return nil, errors.New("order service: address service is required")
	case deps.Settings == nil:
		return nil, errors.New("order service: settings service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	numbers := deps.OrderNumbers
	if numbers == nil {
		numbers = generateOrderNumber
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	return &orderService{
		customers:  deps.Customers,
		catalog:    deps.Catalog,
		orders:     deps.Orders,
		payments:   deps.Payments,
		unitOfWork: unit,
		pricing:    deps.Pricing,
		addresses:  deps.Addresses,
		settings:   deps.Settings,
		notifier: &notifier{
			publisher:  deps.Publisher,
			settings:   deps.Settings,
			adminEmail: strings.TrimSpace(deps.AdminEmail),
			newID:      idGen,
			logger:     logger,
		},
		currency: currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		orderNumbers: numbers,
		sanitizer:    bluemonday.StrictPolicy(),
		logger:       logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	if len(cmd.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) > maxOrderLines {
		return domain.Order{}, fmt.Errorf("%w: at most %d items are allowed", ErrOrderInvalidInput, maxOrderLines)
	}
	customer, contactEmail, err := s.customerFor(cmd)
	if err != nil {
		return domain.Order{}, err
	}
	notes := s.sanitizeNotes(cmd.Notes)

	now := s.now()
	customer.ID = s.newID()
	customer.CreatedAt = now
	customer.UpdatedAt = now

	var order domain.Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		stored, err := s.customers.Upsert(txCtx, customer)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		priced, err := s.pricing.PriceLines(txCtx, cmd.Items)
		if err != nil {
			return err
		}

		fee, err := s.shippingFee(txCtx, priced.Subtotal)
		if err != nil {
			return err
		}

		shipping, err := s.addresses.Resolve(txCtx, stored.ID, cmd.ShippingAddress)
		if err != nil {
			return err
		}
		billing := shipping
		if cmd.BillingAddress != nil {
			billing, err = s.addresses.Resolve(txCtx, stored.ID, *cmd.BillingAddress)
			if err != nil {
				return err
			}
		}

		if err := s.decrementStock(txCtx, priced.Lines); err != nil {
			return err
		}

		order = domain.Order{
			ID:                s.newID(),
			Status:            domain.OrderStatusPending,
			PaymentStatus:     domain.PaymentStatusPending,
			CustomerID:        stored.ID,
			CustomerKind:      stored.Kind,
			CustomerEmail:     firstNonBlank(stored.Email, contactEmail),
			CustomerName:      stored.Name,
			CustomerPhone:     stored.Phone,
			Currency:          s.currency,
			ShippingAddressID: shipping.ID,
			BillingAddressID:  billing.ID,
			Notes:             notes,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if stored.Kind == domain.CustomerRegistered {
			order.CustomerUID = stored.Key
		}
		order.Totals = domain.OrderTotals{
			Subtotal:    priced.Subtotal,
			ShippingFee: fee,
		}
		order.Totals.Final = order.Totals.ComputeFinal()
		if order.Totals.Final < 0 || order.Totals.Final > domain.MaxAmount {
			return fmt.Errorf("%w: order total out of range", ErrOrderInvalidInput)
		}
		order.Items = make([]domain.OrderItem, 0, len(priced.Lines))
		for _, line := range priced.Lines {
			order.Items = append(order.Items, domain.OrderItem{
				ID:          s.newID(),
				OrderID:     order.ID,
				ProductID:   line.ProductID,
				VariationID: line.VariationID,
				Name:        line.Name,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
				Total:       line.Total,
			})
		}

		return s.insertWithNumber(txCtx, &order, now)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"customer":    string(order.CustomerKind),
		"finalAmount": order.Totals.Final,
	})
	s.notifier.notify(ctx, order, NotificationOrderCreated, NotificationOrderAdminAlert, now, nil)
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (domain.Order, error) {
	var (
		order domain.Order
		err   error
	)
	switch {
	case strings.TrimSpace(query.OrderID) != "":
		order, err = s.orders.FindByID(ctx, strings.TrimSpace(query.OrderID))
	case strings.TrimSpace(query.OrderNumber) != "":
		order, err = s.orders.FindByNumber(ctx, strings.TrimSpace(query.OrderNumber))
	default:
		return domain.Order{}, fmt.Errorf("%w: order id or number is required", ErrOrderInvalidInput)
	}
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if !canAccessOrder(order, query.Actor, query.GuestEmail) {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Status))))
	if target == "" {
		return domain.Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	note := truncateRunes(strings.TrimSpace(s.sanitizer.Sanitize(cmd.Note)), maxStatusNoteLength)

	now := s.now()
	var (
		updated  domain.Order
		previous domain.OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order, err = s.orders.LockByNumber(txCtx, order.OrderNumber)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !slices.Contains(orderStateTransitions[order.Status], target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
		}
		previous = order.Status
		order.Status = target
		if note == "" {
			note = fmt.Sprintf("status changed to %s", target)
		}
		order.StatusNote = note
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": updated.ID,
		"from":    string(previous),
		"to":      string(updated.Status),
		"actor":   strings.TrimSpace(cmd.ActorID),
	})
	s.notifier.notify(ctx, updated, NotificationOrderStatusChanged, "", now, map[string]string{
		"previousStatus": string(previous),
		"note":           updated.StatusNote,
	})
	return updated, nil
}

func (s *orderService) ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return nil, s.mapRepositoryError(err)
	}
	payments, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return payments, nil
}

// customerFor returns the customer row to upsert and the order's fallback contact email.
// A registered customer's stored email only ever comes from the verified identity. The body
// email is used for the order alone when the identity carries none.
func (s *orderService) customerFor(cmd CreateOrderCommand) (domain.Customer, string, error) {
	name := strings.TrimSpace(cmd.Guest.Name)
	phone := strings.TrimSpace(cmd.Guest.Phone)
	bodyEmail := strings.TrimSpace(cmd.Guest.Email)
	if cmd.Actor.IsAuthenticated() {
		if bodyEmail != "" && !validEmail(bodyEmail) {
			return domain.Customer{}, "", fmt.Errorf("%w: contact email is malformed", ErrOrderInvalidInput)
		}
		identityEmail := strings.TrimSpace(cmd.Actor.Email)
		return domain.RegisteredCustomer(strings.TrimSpace(cmd.Actor.UID), identityEmail, name, phone), bodyEmail, nil
	}

	if bodyEmail == "" {
		return domain.Customer{}, "", fmt.Errorf("%w: guest email is required without an authenticated identity", ErrOrderInvalidInput)
	}
	if !validEmail(bodyEmail) {
		return domain.Customer{}, "", fmt.Errorf("%w: guest email is malformed", ErrOrderInvalidInput)
	}
	return domain.GuestCustomer(foldEmail(bodyEmail), bodyEmail, name, phone), bodyEmail, nil
}

// shippingFee charges the default cost unless a positive threshold is configured and met.
func (s *orderService) shippingFee(ctx context.Context, subtotal int64) (int64, error) {
	cost, ok, err := s.settings.Decimal(ctx, SettingShippingDefaultCost)
	if err != nil && !errors.Is(err, ErrSettingsInvalidValue) {
		return 0, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	var fee int64
	if err != nil {
		s.logger(ctx, "order.shipping.default_cost.invalid", map[string]any{"error": err.Error()})
	} else if ok && cost.IsPositive() {
		fee, err = domain.AmountFromDecimal(cost)
		if err != nil {
			s.logger(ctx, "order.shipping.default_cost.invalid", map[string]any{"error": err.Error()})
			fee = 0
		}
	}

	threshold, ok, err := s.settings.Decimal(ctx, SettingShippingFreeThreshold)
	if err != nil && !errors.Is(err, ErrSettingsInvalidValue) {
		return 0, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	if err != nil || !ok || !threshold.IsPositive() {
		return fee, nil
	}
	if decimal.New(subtotal, -domain.MinorUnitExponent).GreaterThanOrEqual(threshold) {
		return 0, nil
	}
	return fee, nil
}

func (s *orderService) decrementStock(ctx context.Context, lines []PricedLine) error {
	for idx, line := range lines {
		if !line.Limited {
			continue
		}
		var err error
		if line.VariationID != "" {
			err = s.catalog.DecrementVariationStock(ctx, line.VariationID, line.Quantity)
		} else {
			err = s.catalog.DecrementProductStock(ctx, line.ProductID, line.Quantity)
		}
		if err == nil {
			continue
		}
		if repositories.IsInsufficientStock(err) {
			return fmt.Errorf("%w: line %d", ErrOrderInsufficientStock, idx)
		}
		return s.mapRepositoryError(err)
	}
	return nil
}

// insertWithNumber assigns a fresh order number and retries on a unique index collision.
func (s *orderService) insertWithNumber(ctx context.Context, order *domain.Order, now time.Time) error {
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		order.OrderNumber = s.orderNumbers(now)
		err := s.orders.Insert(ctx, *order)
		if err == nil {
			return nil
		}
		if !isRepoConflict(err) {
			return s.mapRepositoryError(err)
		}
		lastErr = err
		s.logger(ctx, "order.number.collision", map[string]any{"orderNumber": order.OrderNumber, "attempt": attempt + 1})
	}
	return fmt.Errorf("%w: order number collisions: %v", ErrOrderConflict, lastErr)
}

func (s *orderService) sanitizeNotes(raw string) string {
	return truncateRunes(strings.TrimSpace(s.sanitizer.Sanitize(raw)), maxNotesLength)
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

// generateOrderNumber renders SO-yymmdd-XXXXXXXXXX using the random half of a ULID.
func generateOrderNumber(now time.Time) string {
	id := ulid.Make().String()
	return orderNumberPrefix + now.UTC().Format("060102") + "-" + id[len(id)-orderNumberSuffixLen:]
}
