// Copyright 2025 Condor Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/condorlabs/dteingest/core"
	"github.com/condorlabs/dteingest/storage"
)

// lineItemConflict names the uniqueness constraint columns of the fact table.
var lineItemConflict = []clause.Column{
	{Name: "rut_emisor"}, {Name: "folio"}, {Name: "vlr_codigo"},
}

// lineItemAssignments lists the columns overwritten when an upsert hits an
// existing business key.
var lineItemAssignments = []string{
	"fecha_emision", "cantidad", "precio", "monto", "receptor",
	"nombre_item", "descripcion_item", "local", "unidad", "tipo_dte",
	"razon_social", "created_at", "user_email",
}

// Store talks to the shared Postgres database. Every logical operation is
// wrapped in bounded retry with exponential backoff; retries are blind, so
// a permanent failure consumes the whole budget before surfacing.
//
// A Store is safe for concurrent use: the underlying connection pool hands
// each caller its own connection.
type Store struct {
	db          *gorm.DB
	maxAttempts int
	baseDelay   time.Duration
}

var _ storage.Store = (*Store)(nil)

// Config holds connection and retry settings for the store.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string

	// MaxAttempts caps the attempts per logical operation.
	// Default: storage.DefaultMaxAttempts.
	MaxAttempts int

	// RetryBaseDelay is the backoff base delay. It doubles after each
	// failed attempt. Default: storage.DefaultRetryBaseDelay.
	RetryBaseDelay time.Duration
}

// Open connects to the store and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, ErrDSNRequired
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = storage.DefaultMaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = storage.DefaultRetryBaseDelay
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	s := &Store{db: db, maxAttempts: cfg.MaxAttempts, baseDelay: cfg.RetryBaseDelay}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// retry wraps one logical store operation in the retry loop.
func (s *Store) retry(ctx context.Context, op func() error) error {
	return storage.RetryWithBackoff(ctx, op, s.maxAttempts, s.baseDelay)
}

// Exists reports whether a line item with the given business key is persisted.
func (s *Store) Exists(ctx context.Context, issuerRUT, folio, productCode string) (bool, error) {
	var count int64
	err := s.retry(ctx, func() error {
		return s.db.WithContext(ctx).
			Model(&core.LineItem{}).
			Where("rut_emisor = ? AND folio = ? AND vlr_codigo = ?", issuerRUT, folio, productCode).
			Count(&count).Error
	})
	if err != nil {
		return false, fmt.Errorf("line item existence check: %w", err)
	}
	return count > 0, nil
}

// Upsert writes one line item, updating the row on a business-key conflict.
func (s *Store) Upsert(ctx context.Context, item *core.LineItem) error {
	err := s.retry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   lineItemConflict,
			DoUpdates: clause.AssignmentColumns(lineItemAssignments),
		}).Create(item).Error
	})
	if err != nil {
		return fmt.Errorf("line item upsert: %w", err)
	}
	return nil
}

// UpsertBatch writes the deduplicated record set in one round trip.
func (s *Store) UpsertBatch(ctx context.Context, items []core.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	err := s.retry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   lineItemConflict,
			DoUpdates: clause.AssignmentColumns(lineItemAssignments),
		}).Create(&items).Error
	})
	if err != nil {
		return fmt.Errorf("line item batch upsert: %w", err)
	}
	return nil
}

// Find returns the ledger row for filename, or storage.ErrNotFound.
func (s *Store) Find(ctx context.Context, filename string) (*core.ProcessedFile, error) {
	var file core.ProcessedFile
	found := false
	err := s.retry(ctx, func() error {
		res := s.db.WithContext(ctx).
			Where("filename = ?", filename).
			Take(&file)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			// Absence is a result, not a transient failure; do not
			// burn the retry budget on it.
			found = false
			return nil
		}
		if res.Error != nil {
			return res.Error
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	if !found {
		return nil, storage.ErrNotFound
	}
	return &file, nil
}

// Register records one processed file; an already-registered filename is
// left untouched.
func (s *Store) Register(ctx context.Context, file *core.ProcessedFile) error {
	err := s.retry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "filename"}},
			DoNothing: true,
		}).Create(file).Error
	})
	if err != nil {
		return fmt.Errorf("ledger register: %w", err)
	}
	return nil
}

// RegisterBatch records a set of processed files in one round trip,
// ignoring filenames that are already registered.
func (s *Store) RegisterBatch(ctx context.Context, files []core.ProcessedFile) error {
	if len(files) == 0 {
		return nil
	}
	err := s.retry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "filename"}},
			DoNothing: true,
		}).Create(&files).Error
	})
	if err != nil {
		return fmt.Errorf("ledger batch register: %w", err)
	}
	return nil
}

// BranchInfo returns the branch directory row for (folio, issuer), or
// storage.ErrNotFound on a miss.
func (s *Store) BranchInfo(ctx context.Context, folio, issuerRUT string) (*core.BranchInfo, error) {
	var info core.BranchInfo
	found := false
	err := s.retry(ctx, func() error {
		res := s.db.WithContext(ctx).
			Where("folio = ? AND emisor = ?", folio, issuerRUT).
			Take(&info)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			found = false
			return nil
		}
		if res.Error != nil {
			return res.Error
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("branch directory lookup: %w", err)
	}
	if !found {
		return nil, storage.ErrNotFound
	}
	return &info, nil
}

// Ping verifies connectivity to the store.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
