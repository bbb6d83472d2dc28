package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"golang.org/x/text/cases"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func nopLogger(context.Context, string, map[string]any) {}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

var emailFolder = cases.Fold()

// foldEmail returns the canonical comparison key for an email address.
func foldEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > 254 {
		return false
	}
	parsed, err := mail.ParseAddress(email)
	return err == nil && parsed.Address == email
}

// canAccessOrder allows staff, the registered owner, and guests presenting the order email.
func canAccessOrder(order domain.Order, actor Actor, guestEmail string) bool {
	if actor.IsStaff() {
		return true
	}
	if order.CustomerKind == domain.CustomerRegistered {
		return actor.IsAuthenticated() && order.CustomerUID == strings.TrimSpace(actor.UID)
	}
	email := strings.TrimSpace(guestEmail)
	if email == "" {
		email = strings.TrimSpace(actor.Email)
	}
	return email != "" && foldEmail(email) == foldEmail(order.CustomerEmail)
}
