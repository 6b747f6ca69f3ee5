// Package prescription finalizes uploaded prescription documents. The
// upstream media pipeline stores the file elsewhere and leaves an opaque
// reference in the sender's session; the quick-attach command binds that
// reference to an order here.
package prescription

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drugsng/whatsapp-bot/internal/domain"
	"github.com/drugsng/whatsapp-bot/internal/store"
)

// Attacher binds a pending upload to an order.
type Attacher interface {
	Attach(ctx context.Context, orderID int64, fileRef string) error
}

// Service implements Attacher against the repository.
type Service struct {
	repo store.Repository
}

var _ Attacher = (*Service)(nil)

// NewService builds the prescription service.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// Attach persists one prescription row for the order. The order must be one
// we have seen; an unknown order is a NotFound.
func (s *Service) Attach(ctx context.Context, orderID int64, fileRef string) error {
	order, _, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return fmt.Errorf("order %d: %w", orderID, domain.ErrNotFound)
	}

	p := &domain.Prescription{OrderID: orderID, FileRef: fileRef}
	if err := s.repo.InsertPrescription(ctx, p); err != nil {
		return fmt.Errorf("save prescription: %w", err)
	}

	slog.Info("prescription attached", "order_id", orderID, "prescription_id", p.ID)
	return nil
}
