package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput signals malformed initiation input.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the order does not exist.
	ErrPaymentNotFound = errors.New("payment: order not found")
	// ErrPaymentAlreadyPaid indicates the order payment already completed.
	ErrPaymentAlreadyPaid = errors.New("payment: order already paid")
	// ErrPaymentForbidden indicates the caller does not own the order.
	ErrPaymentForbidden = errors.New("payment: forbidden")
	// ErrPaymentAmountMismatch indicates the requested amount differs from the order total.
	ErrPaymentAmountMismatch = errors.New("payment: amount mismatch")
	// ErrPaymentGateway indicates the gateway adapter failed to build the request.
	ErrPaymentGateway = errors.New("payment: gateway error")
	// ErrPaymentUnavailable indicates the store could not be reached.
	ErrPaymentUnavailable = errors.New("payment: unavailable")
)

// PaymentGateway is the subset of payments.Manager used by the services.
type PaymentGateway interface {
	Initiate(ctx context.Context, provider string, req payments.InitiateRequest) (payments.Initiation, error)
	ParseCallback(ctx context.Context, provider string, req payments.CallbackRequest) (payments.CallbackResult, error)
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders     repositories.OrderRepository
	UnitOfWork repositories.UnitOfWork
	Gateway    PaymentGateway
	Clock      func() time.Time
	Logger     Logger
}

type paymentService struct {
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	gateway    PaymentGateway
	clock      func() time.Time
	logger     Logger
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &paymentService{
		orders:     deps.Orders,
		unitOfWork: unit,
		gateway:    deps.Gateway,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Initiate checks, in order: existence, settlement, ownership, amount. Only then is the
// gateway called. The only write is the order status note.
func (s *paymentService) Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentInitiation{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentInitiation{}, s.mapRepositoryError(err)
	}
	if order.PaymentStatus == domain.PaymentStatusCompleted {
		return PaymentInitiation{}, ErrPaymentAlreadyPaid
	}
	if !canAccessOrder(order, cmd.Actor, cmd.GuestEmail) {
		return PaymentInitiation{}, ErrPaymentForbidden
	}
	amount, err := domain.ParseAmount(cmd.Amount)
	if err != nil {
		return PaymentInitiation{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}
	if amount != order.Totals.Final {
		return PaymentInitiation{}, fmt.Errorf("%w: requested %s, order total %s",
			ErrPaymentAmountMismatch, domain.FormatAmount(amount), domain.FormatAmount(order.Totals.Final))
	}

	customer := payments.Customer{
		Name:  firstNonBlank(cmd.Customer.Name, order.CustomerName),
		Email: firstNonBlank(cmd.Customer.Email, order.CustomerEmail),
		Phone: firstNonBlank(cmd.Customer.Phone, order.CustomerPhone),
	}
	initiation, err := s.gateway.Initiate(ctx, cmd.Provider, payments.InitiateRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.Totals.Final,
		Currency:    order.Currency,
		Customer:    customer,
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return PaymentInitiation{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
		}
		s.logger(ctx, "payment.initiate.failed", map[string]any{
			"orderId":  order.ID,
			"provider": cmd.Provider,
			"error":    err.Error(),
		})
		return PaymentInitiation{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	s.recordInitiation(ctx, order.OrderNumber, initiation)

	return PaymentInitiation{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Provider:      initiation.Provider,
		TransactionID: initiation.TransactionID,
		RedirectURL:   initiation.RedirectURL,
		FormParams:    initiation.FormParams,
		Amount:        order.Totals.Final,
		Currency:      order.Currency,
	}, nil
}

// recordInitiation writes the status note under the order row lock so a concurrent callback is
// never overwritten. Failures are logged; the gateway request is already built.
func (s *paymentService) recordInitiation(ctx context.Context, orderNumber string, initiation payments.Initiation) {
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.LockByNumber(txCtx, orderNumber)
		if err != nil {
			return err
		}
		if order.PaymentStatus == domain.PaymentStatusCompleted {
			return nil
		}
		order.StatusNote = truncateRunes(fmt.Sprintf("payment initiated via %s (ref %s)", initiation.Provider, initiation.TransactionID), maxStatusNoteLength)
		order.UpdatedAt = s.clock()
		return s.orders.Update(txCtx, order)
	})
	if err != nil {
		s.logger(ctx, "payment.initiate.note.failed", map[string]any{
			"orderNumber": orderNumber,
			"error":       err.Error(),
		})
		return
	}
	s.logger(ctx, "payment.initiated", map[string]any{
		"orderNumber":   orderNumber,
		"provider":      initiation.Provider,
		"transactionId": initiation.TransactionID,
	})
}

func (s *paymentService) mapRepositoryError(err error) error {
	switch {
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	return err
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
