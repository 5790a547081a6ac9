// Package sqlite registers a single-node ChatStore backend used for
// development and tests.
package sqlite

import (
	"context"
	"fmt"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/store/gormstore"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{TranslateError: true})
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite database: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			// A single connection serializes transactions, which is how
			// sqlite wants to be driven under concurrent writers. It
			// also keeps in-memory databases alive for the store's
			// whole lifetime.
			sqlDB.SetMaxOpenConns(1)

			// The schema is migrated on the store's own connection so
			// in-memory databases come up ready.
			if cfg.DatastoreMigrateAtStart {
				err := db.WithContext(ctx).AutoMigrate(
					&model.User{},
					&model.Conversation{},
					&model.Participant{},
					&model.Message{},
				)
				if err != nil {
					return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
				}
			}
			return gormstore.New(db, cfg), nil
		},
	})
}
