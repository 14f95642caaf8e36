// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"neighborly/internal/platform/apperr"
)

const itemColumns = `id, owner_id, community_id, name, description, category, available, status, version, created_at, updated_at`

// service implements the Service interface.
type service struct {
	db      *sqlx.DB
	members MembershipChecker
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(db *sqlx.DB, members MembershipChecker) Service {
	return &service{
		db:      db,
		members: members,
		tracer:  otel.Tracer("neighborly/catalog"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AddItem lists a new item in a community the owner belongs to.
func (s *service) AddItem(ctx context.Context, in AddItemInput) (*Item, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_item")
	defer span.End()

	member, err := s.members.IsMember(ctx, in.CommunityID, in.OwnerID)
	if err != nil {
		return nil, apperr.Unexpected("failed to check community membership", err)
	}
	if !member {
		return nil, apperr.Forbidden("you are not a member of this community")
	}

	now := s.now()
	item := &Item{
		ID:          uuid.New(),
		OwnerID:     in.OwnerID,
		CommunityID: in.CommunityID,
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Available:   true,
		Status:      StatusActive,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (:id, :owner_id, :community_id, :name, :description, :category, :available, :status, :version, :created_at, :updated_at)
	`, item)
	if err != nil {
		return nil, apperr.Unexpected("failed to add item", err)
	}
	span.SetAttributes(attribute.String("item.id", item.ID.String()))
	return item, nil
}

// GetItem retrieves an item by its ID.
func (s *service) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	item := &Item{}
	err := s.db.GetContext(ctx, item, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("item with ID %s not found", id)
		}
		return nil, apperr.Unexpected("failed to get item", err)
	}
	return item, nil
}

// ListItems returns the active items of a community, newest first.
func (s *service) ListItems(ctx context.Context, communityID uuid.UUID) ([]Item, error) {
	items := []Item{}
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+itemColumns+`
		FROM items
		WHERE community_id = $1 AND status = $2
		ORDER BY created_at DESC
	`, communityID, StatusActive)
	if err != nil {
		return nil, apperr.Unexpected("failed to list items", err)
	}
	return items, nil
}

// SetAvailability flips the lent-out flag. The flip is a claim: asking for the
// value the item already has is a Conflict.
func (s *service) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	ctx, span := s.tracer.Start(ctx, "catalog.set_availability", trace.WithAttributes(
		attribute.String("item.id", id.String()),
		attribute.Bool("item.available", available),
	))
	defer span.End()

	item, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Available == available {
		if available {
			return apperr.Conflict("item %s is not lent out", id)
		}
		return apperr.Conflict("item %s is already lent out", id)
	}
	if item.Status != StatusActive && !available {
		return apperr.Validation("item %s is retired", id)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET available = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4 AND available = $5
	`, available, s.now(), id, item.Version, !available)
	if err != nil {
		return apperr.Unexpected("failed to update item availability", err)
	}
	return expectOneRow(res, id)
}

// RemoveItem retires an item. Only its owner may do so, and not while it is
// lent out.
func (s *service) RemoveItem(ctx context.Context, id, callerID uuid.UUID) error {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if item.OwnerID != callerID {
		return apperr.Forbidden("only the owner can remove this item")
	}
	if item.Status == StatusRetired {
		return apperr.Conflict("item %s is already retired", id)
	}
	if !item.Available {
		return apperr.Conflict("item %s is currently lent out", id)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
	`, StatusRetired, s.now(), id, item.Version)
	if err != nil {
		return apperr.Unexpected("failed to remove item", err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Unexpected("failed to read update result", err)
	}
	if n == 0 {
		return apperr.Conflict("item %s was modified concurrently", id)
	}
	return nil
}
