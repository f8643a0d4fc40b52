// Package store implements the fleet repositories on top of gorm.
//
// Every state transition the engine relies on for concurrency safety is a
// single conditional UPDATE here: pending commands are claimed with
// "status = pending" in the WHERE clause and token uses with
// "used_count < max_uses", never with a read followed by a write.
package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/monorkin/device-fleet-manager/internal/fault"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// translate maps gorm errors onto fault kinds. what names the entity for
// the caller-visible message.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fault.NotFoundf("%s not found", what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fault.Wrap(fault.Conflict, err, fmt.Sprintf("%s already exists", what))
	default:
		var classified *fault.Error
		if errors.As(err, &classified) {
			return err
		}
		return fmt.Errorf("storage failure on %s: %w", what, err)
	}
}
