package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrInvalidPageToken is returned for a page token ListSnapshots did not issue.
var ErrInvalidPageToken = errors.New("invalid page token")

// CreateSnapshot appends a version snapshot. A second snapshot for the same
// (schema, version) fails the unique index.
func (s *Store) CreateSnapshot(ctx context.Context, snap *VersionSnapshotRecord) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return fmt.Errorf("failed to create version snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the snapshot of a schema at version, or nil if absent.
func (s *Store) GetSnapshot(ctx context.Context, schemaID string, version int) (*VersionSnapshotRecord, error) {
	var snap VersionSnapshotRecord
	err := s.db.WithContext(ctx).
		Where("schema_id = ? AND version_number = ?", schemaID, version).
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version snapshot: %w", err)
	}
	return &snap, nil
}

// ListSnapshots returns a page of snapshots for a schema, newest first.
// Returns the snapshots, a next page token (empty if no more pages), and
// the total count.
func (s *Store) ListSnapshots(ctx context.Context, schemaID string, pageSize int, pageToken string) ([]VersionSnapshotRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&VersionSnapshotRecord{}).
		Where("schema_id = ?", schemaID).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("failed to count version snapshots: %w", err)
	}

	query := s.db.WithContext(ctx).Where("schema_id = ?", schemaID)
	if pageToken != "" {
		before, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("%w %q", ErrInvalidPageToken, pageToken)
		}
		query = query.Where("version_number < ?", before)
	}

	var snaps []VersionSnapshotRecord
	if err := query.Order("version_number DESC").Limit(pageSize + 1).Find(&snaps).Error; err != nil {
		return nil, "", 0, fmt.Errorf("failed to list version snapshots: %w", err)
	}

	var nextToken string
	if len(snaps) > pageSize {
		snaps = snaps[:pageSize]
		nextToken = strconv.Itoa(snaps[pageSize-1].VersionNumber)
	}
	return snaps, nextToken, int(total), nil
}

// AppendChange writes one change log entry.
func (s *Store) AppendChange(ctx context.Context, entry *ChangeLogRecord) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append change log entry: %w", err)
	}
	return nil
}

// ListChanges returns the change log of a schema, newest first. A
// non-positive limit returns every entry.
func (s *Store) ListChanges(ctx context.Context, schemaID string, limit int) ([]ChangeLogRecord, error) {
	q := s.db.WithContext(ctx).Where("schema_id = ?", schemaID).Order("version DESC, timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []ChangeLogRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list change log: %w", err)
	}
	return out, nil
}
