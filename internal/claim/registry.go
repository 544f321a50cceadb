package claim

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nerrad567/dispenser-core/internal/provisioning"
)

// Record is a device's entry in the shared claim registry.
type Record struct {
	DeviceID         string
	PrimaryPatientID string
	ClaimedAt        *time.Time
}

// Claimed reports whether the device has a primary patient.
func (r *Record) Claimed() bool {
	return r != nil && r.PrimaryPatientID != ""
}

// Registry is the read path of the claim registry.
type Registry interface {
	// Lookup returns the record for deviceID, or (nil, nil) when the
	// device has no record.
	Lookup(ctx context.Context, deviceID string) (*Record, error)
}

// SQLiteRegistry reads claims from the device_claims table.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry creates a registry over an open, migrated database.
func NewSQLiteRegistry(db *sql.DB) *SQLiteRegistry {
	return &SQLiteRegistry{db: db}
}

// Lookup reads the claim record for deviceID.
func (r *SQLiteRegistry) Lookup(ctx context.Context, deviceID string) (*Record, error) {
	const op = "claim.lookup"

	var (
		rec       Record
		patientID sql.NullString
		claimedAt sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT device_id, primary_patient_id, claimed_at FROM device_claims WHERE device_id = ?",
		deviceID,
	).Scan(&rec.DeviceID, &patientID, &claimedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil //nolint:nilnil // absent record is a valid answer
	case err != nil:
		return nil, provisioning.FromSQLite(op, err)
	}

	rec.PrimaryPatientID = patientID.String
	if claimedAt.Valid {
		if t, perr := time.Parse(time.RFC3339, claimedAt.String); perr == nil {
			rec.ClaimedAt = &t
		}
	}
	return &rec, nil
}

// MemoryRegistry is a fixed in-memory Registry for tests and dry runs.
type MemoryRegistry struct {
	Records map[string]Record
}

// Lookup returns a copy of the stored record.
func (m *MemoryRegistry) Lookup(_ context.Context, deviceID string) (*Record, error) {
	rec, ok := m.Records[deviceID]
	if !ok {
		return nil, nil //nolint:nilnil // absent record is a valid answer
	}
	return &rec, nil
}
