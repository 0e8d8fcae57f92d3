// Package sqlitestore provides a durable offchain.Recorder backed by SQLite.
// Every accepted channel update is written as one row keyed by channel
// identity and sequence, giving the booking layer a queryable audit history
// that survives process restarts.
package sqlitestore

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/keyloft/settlement/offchain"
)

const schema = `
CREATE TABLE IF NOT EXISTS channel_updates (
	channel_id             TEXT    NOT NULL,
	sequence               INTEGER NOT NULL,
	update_id              TEXT    NOT NULL,
	owner_balance          INTEGER NOT NULL,
	counterparty_balance   INTEGER NOT NULL,
	owner_signature        BLOB    NOT NULL,
	counterparty_signature BLOB    NOT NULL,
	recorded_at            TEXT    NOT NULL,
	PRIMARY KEY (channel_id, sequence)
);`

// Store records channel updates in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL;")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	_, err = db.Exec(schema)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordUpdate implements offchain.Recorder. Recording the same (channel,
// sequence) twice fails, which keeps the durable history strictly
// append-only.
func (s *Store) RecordUpdate(channelID [32]byte, u offchain.Update) error {
	_, err := s.db.Exec(
		`INSERT INTO channel_updates
		(channel_id, sequence, update_id, owner_balance, counterparty_balance,
		 owner_signature, counterparty_signature, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		hex.EncodeToString(channelID[:]),
		u.Sequence,
		u.ID.String(),
		u.OwnerBalance,
		u.CounterpartyBalance,
		u.OwnerSignature,
		u.CounterpartySignature,
		u.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting update %d for channel %s: %w",
			u.Sequence, hex.EncodeToString(channelID[:]), err)
	}
	return nil
}

// Updates returns the recorded history for a channel in sequence order.
func (s *Store) Updates(channelID [32]byte) ([]offchain.Update, error) {
	rows, err := s.db.Query(
		`SELECT update_id, sequence, owner_balance, counterparty_balance,
		        owner_signature, counterparty_signature, recorded_at
		 FROM channel_updates WHERE channel_id = ? ORDER BY sequence`,
		hex.EncodeToString(channelID[:]),
	)
	if err != nil {
		return nil, fmt.Errorf("querying updates: %w", err)
	}
	defer rows.Close()

	updates := []offchain.Update{}
	for rows.Next() {
		u := offchain.Update{}
		id := ""
		recordedAt := ""
		err = rows.Scan(&id, &u.Sequence, &u.OwnerBalance, &u.CounterpartyBalance,
			&u.OwnerSignature, &u.CounterpartySignature, &recordedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning update: %w", err)
		}
		u.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing update id %q: %w", id, err)
		}
		u.Timestamp, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing update timestamp %q: %w", recordedAt, err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating updates: %w", err)
	}
	return updates, nil
}
