// Package gormstore implements the ChatStore interface on top of GORM.
// The postgres and sqlite plugins open the dialector and hand the
// resulting *gorm.DB to New; everything else is shared.
package gormstore

import (
	"errors"

	"github.com/chirino/chat-service/internal/config"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Store implements registrystore.ChatStore using GORM.
type Store struct {
	db  *gorm.DB
	cfg *config.Config
}

// New creates a Store on an already-opened GORM handle.
func New(db *gorm.DB, cfg *config.Config) *Store {
	return &Store{db: db, cfg: cfg}
}

// appendMaxAttempts bounds the retry loop around sequence assignment.
const appendMaxAttempts = 3

// isDuplicateKey reports whether err is a uniqueness violation, across
// the postgres and sqlite drivers.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ registrystore.ChatStore = (*Store)(nil)
