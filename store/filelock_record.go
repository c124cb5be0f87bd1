package store

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// RecordStore provides lightweight CRUD over the advisory FileLockRecord
// table via GORM, mirroring the teacher's split between pgx for
// concurrency-critical rows and GORM for observational, log-style rows
// (db/postgres.go's RabbitLog model).
type RecordStore struct {
	db *gorm.DB
}

// NewRecordStore opens a GORM connection over the same Postgres database
// the pgx pool points at.
func NewRecordStore(dsn string) (*RecordStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, Internal("open gorm connection", err)
	}
	if err := db.AutoMigrate(&FileLockRecord{}); err != nil {
		return nil, Internal("migrate file lock records", err)
	}
	return &RecordStore{db: db}, nil
}

// Record inserts a new active FileLockRecord for one acquisition.
func (r *RecordStore) Record(path, clientID string, taskID, workflowID *string, accessType AccessType, expiresAt *time.Time) (*FileLockRecord, error) {
	rec := &FileLockRecord{
		Path:       path,
		ClientID:   clientID,
		TaskID:     taskID,
		WorkflowID: workflowID,
		AccessType: accessType,
		AcquiredAt: time.Now(),
		ExpiresAt:  expiresAt,
		Active:     true,
	}
	if err := r.db.Create(rec).Error; err != nil {
		return nil, Internal("create file lock record", err)
	}
	return rec, nil
}

// Release flips a record to inactive on handle close.
func (r *RecordStore) Release(id int64) error {
	return r.db.Model(&FileLockRecord{}).Where("id = ?", id).Update("active", false).Error
}

// ActiveByPath returns every active record for a path, for external
// observers. The process-local registry sweep does not consult it.
func (r *RecordStore) ActiveByPath(path string) ([]*FileLockRecord, error) {
	var recs []*FileLockRecord
	if err := r.db.Where("path = ? AND active = ?", path, true).Find(&recs).Error; err != nil {
		return nil, Internal("query active file lock records", err)
	}
	return recs, nil
}

// SweepExpired deactivates every record whose expiry has passed.
func (r *RecordStore) SweepExpired(before time.Time) (int64, error) {
	tx := r.db.Model(&FileLockRecord{}).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at < ?", true, before).
		Update("active", false)
	return tx.RowsAffected, tx.Error
}
