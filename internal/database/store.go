package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("terminal record not found")

// Filter narrows List and Count. Deleted records are excluded unless
// IncludeDeleted is set. ProvisioningBefore matches records whose current
// provisioning attempt began before it, falling back to created_at.
type Filter struct {
	OwnerID            string
	Statuses           []TerminalStatus
	IncludeDeleted     bool
	ExpiresBefore      *time.Time
	CreatedBefore      *time.Time
	ProvisioningBefore *time.Time
}

// TerminalStore is the gorm-backed terminal record store. Every mutation is
// scoped to a single id and never touches soft-deleted rows.
type TerminalStore struct {
	db *gorm.DB
}

func NewTerminalStore(db *gorm.DB) *TerminalStore {
	return &TerminalStore{db: db}
}

func (s *TerminalStore) Insert(ctx context.Context, t *Terminal) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("insert terminal %s: %w", t.ID, err)
	}
	return nil
}

func (s *TerminalStore) Get(ctx context.Context, id string) (*Terminal, error) {
	var t Terminal
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get terminal %s: %w", id, err)
	}
	return &t, nil
}

// Update applies fields to a live (non-deleted) record. It reports whether a
// row was changed.
func (s *TerminalStore) Update(ctx context.Context, id string, fields map[string]interface{}) (bool, error) {
	return s.update(ctx, s.db.WithContext(ctx).Model(&Terminal{}).Where("id = ? AND deleted_at IS NULL", id), id, fields)
}

// UpdateIfStatus applies fields only while the record is still in one of the
// from statuses. Writers use it to avoid clobbering a transition made
// concurrently by another writer.
func (s *TerminalStore) UpdateIfStatus(ctx context.Context, id string, from []TerminalStatus, fields map[string]interface{}) (bool, error) {
	q := s.db.WithContext(ctx).Model(&Terminal{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Where("status IN ?", from)
	return s.update(ctx, q, id, fields)
}

func (s *TerminalStore) update(_ context.Context, q *gorm.DB, id string, fields map[string]interface{}) (bool, error) {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("update terminal %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// List returns one page of records matching f, newest first, together with
// the total number of matches. A non-positive limit returns every match.
func (s *TerminalStore) List(ctx context.Context, f Filter, offset, limit int) ([]Terminal, int64, error) {
	var total int64
	if err := s.apply(s.db.WithContext(ctx).Model(&Terminal{}), f).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count terminals: %w", err)
	}

	q := s.apply(s.db.WithContext(ctx), f).Order("created_at DESC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var terms []Terminal
	if err := q.Find(&terms).Error; err != nil {
		return nil, 0, fmt.Errorf("list terminals: %w", err)
	}
	return terms, total, nil
}

func (s *TerminalStore) Count(ctx context.Context, f Filter) (int64, error) {
	var n int64
	if err := s.apply(s.db.WithContext(ctx).Model(&Terminal{}), f).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count terminals: %w", err)
	}
	return n, nil
}

func (s *TerminalStore) apply(q *gorm.DB, f Filter) *gorm.DB {
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if !f.IncludeDeleted {
		q = q.Where("deleted_at IS NULL")
	}
	if f.ExpiresBefore != nil {
		q = q.Where("expires_at < ?", *f.ExpiresBefore)
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at < ?", *f.CreatedBefore)
	}
	if f.ProvisioningBefore != nil {
		q = q.Where("COALESCE(provisioning_at, created_at) < ?", *f.ProvisioningBefore)
	}
	return q
}
