package miio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/miio"
)

// DeviceRecord is the persisted state of a device.
type DeviceRecord struct {
	ID            string
	Model         string
	Firmware      string
	MAC           string
	LastRequestID int
	IdentifiedAt  *time.Time
	UpdatedAt     time.Time
}

// Store persists device identity, request ids and channel sets.
// This abstraction allows for different implementations (SQLite, mock, etc.).
type Store interface {
	// EnsureDevice creates the device row if it does not exist.
	EnsureDevice(ctx context.Context, id string) error

	// GetDevice returns ErrDeviceNotFound if the device does not exist.
	GetDevice(ctx context.Context, id string) (*DeviceRecord, error)

	// SaveIdentity records the miIO.info result.
	SaveIdentity(ctx context.Context, id string, info miio.DeviceInfo) error

	// SaveLastRequestID records the last RPC id used for the device.
	SaveLastRequestID(ctx context.Context, id string, lastID int) error

	// Channels returns the stored channel set ordered by channel id.
	Channels(ctx context.Context, id string) ([]miio.ChannelSpec, error)

	// ReplaceChannels atomically replaces the stored channel set.
	ReplaceChannels(ctx context.Context, id string, specs []miio.ChannelSpec) error
}

// SQLiteStore implements Store over the miio_devices and miio_channels tables.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store. The db must have the bridge migrations applied.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// EnsureDevice creates the device row if it does not exist.
func (s *SQLiteStore) EnsureDevice(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO miio_devices (id, updated_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by id.
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*DeviceRecord, error) {
	var (
		rec          DeviceRecord
		identifiedAt sql.NullString
		updatedAt    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, model, firmware, mac, last_request_id, identified_at, updated_at
		FROM miio_devices
		WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Model, &rec.Firmware, &rec.MAC, &rec.LastRequestID, &identifiedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}

	if identifiedAt.Valid {
		t, err := time.Parse(time.RFC3339, identifiedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing identified_at: %w", err)
		}
		rec.IdentifiedAt = &t
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rec, nil
}

// SaveIdentity records the device's model, firmware and MAC.
func (s *SQLiteStore) SaveIdentity(ctx context.Context, id string, info miio.DeviceInfo) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO miio_devices (id, model, firmware, mac, identified_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			firmware = excluded.firmware,
			mac = excluded.mac,
			identified_at = excluded.identified_at,
			updated_at = excluded.updated_at`,
		id, info.Model, info.FirmwareVersion, info.MAC, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving device identity: %w", err)
	}
	return nil
}

// SaveLastRequestID records the last RPC id used for the device.
func (s *SQLiteStore) SaveLastRequestID(ctx context.Context, id string, lastID int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO miio_devices (id, last_request_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_request_id = excluded.last_request_id,
			updated_at = excluded.updated_at`,
		id, lastID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving last request id: %w", err)
	}
	return nil
}

// Channels returns the stored channel set ordered by channel id.
func (s *SQLiteStore) Channels(ctx context.Context, id string) ([]miio.ChannelSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, type, label, ui_type
		FROM miio_channels
		WHERE device_id = ?
		ORDER BY channel_id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var specs []miio.ChannelSpec
	for rows.Next() {
		var spec miio.ChannelSpec
		var channelID string
		if err := rows.Scan(&channelID, &spec.Type, &spec.Label, &spec.UIType); err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		spec.ID = miio.ChannelID(channelID)
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channels: %w", err)
	}
	return specs, nil
}

// ReplaceChannels replaces the device's channel set in one transaction.
func (s *SQLiteStore) ReplaceChannels(ctx context.Context, id string, specs []miio.ChannelSpec) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO miio_devices (id, updated_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM miio_channels WHERE device_id = ?`, id); err != nil {
		return fmt.Errorf("clearing channels: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO miio_channels (device_id, channel_id, type, label, ui_type)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing channel insert: %w", err)
	}
	defer stmt.Close()

	for _, spec := range specs {
		if _, err := stmt.ExecContext(ctx, id, string(spec.ID), spec.Type, spec.Label, spec.UIType); err != nil {
			return fmt.Errorf("inserting channel %s: %w", spec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing channels: %w", err)
	}
	return nil
}
