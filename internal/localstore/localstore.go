// Package localstore keeps the two per-device records of the student
// client, the identity and the last-joined session pointer, in an embedded
// SQLite file.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Well-known record keys.
const (
	KeyIdentity = "student_identity"
	KeyPointer  = "session_pointer"
)

// Record is one whole-value entry. Values are overwritten wholesale and
// carry no version.
type Record struct {
	Name      string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (Record) TableName() string { return "local_records" }

// DB wraps the device database.
type DB struct {
	gdb *gorm.DB
}

// Open opens (creating if needed) the SQLite file at path.
func Open(path string) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	if err := gdb.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate local database: %w", err)
	}
	return &DB{gdb: gdb}, nil
}

func (d *DB) Close() error {
	sqlDB, err := d.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// load decodes the record under key into dst. It reports false when the
// record does not exist.
func (d *DB) load(ctx context.Context, key string, dst any) (bool, error) {
	var rec Record
	err := d.gdb.WithContext(ctx).Where("name = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(rec.Value), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (d *DB) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	rec := Record{Name: key, Value: string(data), UpdatedAt: time.Now()}
	err = d.gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (d *DB) remove(ctx context.Context, key string) error {
	if err := d.gdb.WithContext(ctx).Where("name = ?", key).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	return nil
}
