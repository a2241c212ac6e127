package records

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/apperrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const columnID = "id"

var (
	errMissingDatabase = errors.New("records: database handle is required")
	errEmptyFilter     = errors.New("records: filter field must not be empty")
	errMissingRecordID = errors.New("records: record id is required")
	errNoFields        = errors.New("records: update requires at least one field")
)

// Condition is a single equality predicate on a column.
type Condition struct {
	Field string
	Value any
}

// Filter is a conjunction of equality conditions. The zero value matches every row.
type Filter []Condition

// Eq builds a single-condition filter.
func Eq(field string, value any) Filter {
	return Filter{{Field: field, Value: value}}
}

// And returns a copy of the filter extended with another equality condition.
func (f Filter) And(field string, value any) Filter {
	next := make(Filter, 0, len(f)+1)
	next = append(next, f...)
	return append(next, Condition{Field: field, Value: value})
}

// Order sorts results by a column.
type Order struct {
	Field string
	Desc  bool
}

// Desc orders by field, newest or largest first.
func Desc(field string) Order {
	return Order{Field: field, Desc: true}
}

// Asc orders by field, oldest or smallest first.
func Asc(field string) Order {
	return Order{Field: field}
}

// Repository is a typed accessor over one table of the record store.
type Repository[T any] struct {
	db *gorm.DB
}

// NewRepository binds a repository to the provided database handle.
func NewRepository[T any](db *gorm.DB) (*Repository[T], error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Repository[T]{db: db}, nil
}

// WithTx returns a repository bound to the supplied transaction.
func (r *Repository[T]) WithTx(tx *gorm.DB) *Repository[T] {
	return &Repository[T]{db: tx}
}

// Select returns every row matching filter in the requested order.
func (r *Repository[T]) Select(ctx context.Context, filter Filter, orders ...Order) ([]T, error) {
	query, err := r.scoped(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, order := range orders {
		query = query.Order(clause.OrderByColumn{Column: clause.Column{Name: order.Field}, Desc: order.Desc})
	}
	rows := make([]T, 0)
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Get returns the row with the given id or an error wrapping apperrors.ErrNotFound.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	return r.First(ctx, Eq(columnID, id))
}

// First returns the first row matching filter or an error wrapping apperrors.ErrNotFound.
func (r *Repository[T]) First(ctx context.Context, filter Filter) (T, error) {
	var row T
	query, err := r.scoped(ctx, filter)
	if err != nil {
		return row, err
	}
	err = query.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, fmt.Errorf("%w: %s", apperrors.ErrNotFound, describe(filter))
	}
	return row, err
}

// Insert persists a new row.
func (r *Repository[T]) Insert(ctx context.Context, record *T) error {
	if r == nil || r.db == nil {
		return errMissingDatabase
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// Update applies the given column values to the row with id.
func (r *Repository[T]) Update(ctx context.Context, id string, fields map[string]any) error {
	if strings.TrimSpace(id) == "" {
		return errMissingRecordID
	}
	if len(fields) == 0 {
		return errNoFields
	}
	query, err := r.scoped(ctx, Eq(columnID, id))
	if err != nil {
		return err
	}
	result := query.Model(new(T)).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: id=%s", apperrors.ErrNotFound, id)
	}
	return nil
}

// Delete removes the row with id.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errMissingRecordID
	}
	query, err := r.scoped(ctx, Eq(columnID, id))
	if err != nil {
		return err
	}
	result := query.Delete(new(T))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: id=%s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (r *Repository[T]) scoped(ctx context.Context, filter Filter) (*gorm.DB, error) {
	if r == nil || r.db == nil {
		return nil, errMissingDatabase
	}
	query := r.db.WithContext(ctx).Model(new(T))
	for _, condition := range filter {
		if strings.TrimSpace(condition.Field) == "" {
			return nil, errEmptyFilter
		}
		query = query.Where(clause.Eq{Column: clause.Column{Name: condition.Field}, Value: condition.Value})
	}
	return query, nil
}

func describe(filter Filter) string {
	parts := make([]string, 0, len(filter))
	for _, condition := range filter {
		parts = append(parts, fmt.Sprintf("%s=%v", condition.Field, condition.Value))
	}
	return strings.Join(parts, ",")
}
