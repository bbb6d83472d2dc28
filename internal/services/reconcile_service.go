package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/repositories"
)

const reconcileMeterName = "github.com/storefront/api/internal/services"

var (
	// ErrReconcileInvalid indicates the callback failed signature or structural validation.
	ErrReconcileInvalid = errors.New("reconcile: invalid callback")
	// ErrReconcileOrderNotFound indicates the callback references an unknown order.
	ErrReconcileOrderNotFound = errors.New("reconcile: order not found")
	// ErrReconcileAmountMismatch indicates the charged amount differs from the order total.
	ErrReconcileAmountMismatch = errors.New("reconcile: amount mismatch")
	// ErrReconcileUnavailable indicates the store could not be reached.
	ErrReconcileUnavailable = errors.New("reconcile: unavailable")

	errReconcileDuplicate = errors.New("reconcile: duplicate transaction")
)

// ReconcileServiceDeps bundles collaborators required to construct the reconciler.
type ReconcileServiceDeps struct {
	Orders      repositories.OrderRepository
	Payments    repositories.PaymentRepository
	UnitOfWork  repositories.UnitOfWork
	Gateway     PaymentGateway
	Settings    SettingsService
	Publisher   NotificationPublisher
	AdminEmail  string
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type reconcileService struct {
	orders     repositories.OrderRepository
	payments   repositories.PaymentRepository
	unitOfWork repositories.UnitOfWork
	gateway    PaymentGateway
	notifier   *notifier
	outcomes   metric.Int64Counter
	clock      func() time.Time
	newID      func() string
	logger     Logger
}

// NewReconcileService wires dependencies into a concrete ReconcileService implementation.
func NewReconcileService(deps ReconcileServiceDeps) (ReconcileService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("reconcile service: order repository is required")
	case deps.Payments == nil:
		return nil, errors.New("reconcile service: payment repository is required")
	case deps.Gateway == nil:
		return nil, errors.New("reconcile service: gateway is required")
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
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(reconcileMeterName)
	}
	outcomes, err := meter.Int64Counter(
		"storefront.payments.reconciled",
		metric.WithDescription("Gateway callbacks applied by the reconciler"),
	)
	if err != nil {
		return nil, fmt.Errorf("reconcile service: counter: %w", err)
	}

	return &reconcileService{
		orders:     deps.Orders,
		payments:   deps.Payments,
		unitOfWork: unit,
		gateway:    deps.Gateway,
		notifier: &notifier{
			publisher:  deps.Publisher,
			settings:   deps.Settings,
			adminEmail: strings.TrimSpace(deps.AdminEmail),
			newID:      idGen,
			logger:     logger,
		},
		outcomes: outcomes,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Reconcile verifies the callback and applies it exactly once per (order, transaction). The
// order update and the payment row commit together or not at all.
func (s *reconcileService) Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	callback, err := s.gateway.ParseCallback(ctx, cmd.Provider, payments.CallbackRequest{Form: cmd.Form, Body: cmd.Body})
	if err != nil {
		s.record(ctx, cmd.Provider, "", "invalid")
		return ReconcileResult{}, fmt.Errorf("%w: %w", ErrReconcileInvalid, err)
	}

	now := s.clock()
	result := ReconcileResult{OrderNumber: callback.OrderNumber, TransactionID: callback.TransactionID}
	var settled domain.Order
	notify := false

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.LockByNumber(txCtx, callback.OrderNumber)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		result.OrderID = order.ID
		result.PaymentStatus = order.PaymentStatus

		_, err = s.payments.FindByTransaction(txCtx, order.ID, callback.TransactionID)
		if err == nil {
			return errReconcileDuplicate
		}
		if !isRepoNotFound(err) {
			return s.mapRepositoryError(err)
		}

		if callback.Amount != order.Totals.Final {
			return fmt.Errorf("%w: charged %s, order total %s", ErrReconcileAmountMismatch,
				domain.FormatAmount(callback.Amount), domain.FormatAmount(order.Totals.Final))
		}
		if callback.Currency != "" && !strings.EqualFold(callback.Currency, order.Currency) {
			return fmt.Errorf("%w: charged in %s, order in %s", ErrReconcileAmountMismatch, callback.Currency, order.Currency)
		}

		status := domain.PaymentStatusFailed
		if callback.Outcome == payments.OutcomeSuccess {
			status = domain.PaymentStatusCompleted
		}
		payment := domain.Payment{
			ID:              s.newID(),
			OrderID:         order.ID,
			Provider:        callback.Provider,
			Method:          callback.Method,
			Status:          status,
			Amount:          callback.Amount,
			Currency:        order.Currency,
			TransactionID:   callback.TransactionID,
			GatewayResponse: callback.Raw,
			CreatedAt:       now,
		}

		if order.PaymentStatus == domain.PaymentStatusCompleted {
			result.AlreadySettled = true
		} else {
			order.PaymentStatus = status
			if status == domain.PaymentStatusCompleted {
				if order.Status == domain.OrderStatusPending {
					order.Status = domain.OrderStatusConfirmed
				}
				paidAt := now
				order.PaidAt = &paidAt
				notify = true
			}
			order.StatusNote = truncateRunes(fmt.Sprintf("payment %s via %s, transaction %s", callback.Outcome, callback.Provider, callback.TransactionID), maxStatusNoteLength)
			order.UpdatedAt = now
			if err := s.orders.Update(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
		}

		if err := s.payments.Insert(txCtx, payment); err != nil {
			if isRepoConflict(err) {
				return errReconcileDuplicate
			}
			return s.mapRepositoryError(err)
		}
		result.PaymentStatus = order.PaymentStatus
		settled = order
		return nil
	})

	switch {
	case errors.Is(err, errReconcileDuplicate):
		result.Duplicate = true
		s.record(ctx, callback.Provider, callback.Outcome, "duplicate")
		s.logger(ctx, "payment.callback.duplicate", map[string]any{
			"orderNumber":   callback.OrderNumber,
			"transactionId": callback.TransactionID,
		})
		return result, nil
	case err != nil:
		s.record(ctx, callback.Provider, callback.Outcome, "error")
		s.logger(ctx, "payment.callback.failed", map[string]any{
			"orderNumber":   callback.OrderNumber,
			"transactionId": callback.TransactionID,
			"error":         err.Error(),
		})
		return result, err
	}

	label := "applied"
	if result.AlreadySettled {
		label = "already_settled"
	}
	s.record(ctx, callback.Provider, callback.Outcome, label)
	s.logger(ctx, "payment.callback.applied", map[string]any{
		"orderNumber":    callback.OrderNumber,
		"transactionId":  callback.TransactionID,
		"paymentStatus":  string(result.PaymentStatus),
		"alreadySettled": result.AlreadySettled,
	})

	if notify {
		s.notifier.notify(ctx, settled, NotificationPaymentCompleted, NotificationPaymentAdminAlert, now, map[string]string{
			"transactionId": callback.TransactionID,
			"provider":      callback.Provider,
		})
	}
	return result, nil
}

func (s *reconcileService) record(ctx context.Context, provider string, outcome payments.Outcome, result string) {
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", string(outcome)),
		attribute.String("result", result),
	))
}

func (s *reconcileService) mapRepositoryError(err error) error {
	switch {
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrReconcileOrderNotFound, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrReconcileUnavailable, err)
	}
	return err
}
