// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/element-hq/syncclient/syncapi/types"
	"github.com/element-hq/syncclient/synctypes"
)

const syncStoreSchema = `
CREATE TABLE IF NOT EXISTS syncapi_room_snapshots (
	room_id TEXT PRIMARY KEY,
	disposition INTEGER NOT NULL,
	membership TEXT NOT NULL,
	prev_batch TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS syncapi_room_state (
	room_id TEXT NOT NULL,
	in_invite_state BOOLEAN NOT NULL DEFAULT 0,
	event_type TEXT NOT NULL,
	state_key TEXT NOT NULL,
	event_json TEXT NOT NULL,
	CONSTRAINT syncapi_room_state_unique UNIQUE (room_id, in_invite_state, event_type, state_key)
);
CREATE TABLE IF NOT EXISTS syncapi_room_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id TEXT NOT NULL,
	stream TEXT NOT NULL,
	event_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS syncapi_sync_token (
	lock INTEGER PRIMARY KEY CHECK (lock = 0),
	token TEXT NOT NULL
);`

const streamTimeline = "timeline"

const upsertSnapshotSQL = `INSERT INTO syncapi_room_snapshots (room_id, disposition, membership, prev_batch)
  VALUES ($1, $2, $3, $4)
  ON CONFLICT (room_id) DO UPDATE SET disposition = $2, membership = $3, prev_batch = $4`

const deleteRoomStateSQL = "DELETE FROM syncapi_room_state WHERE room_id = $1"

const insertRoomStateSQL = `INSERT INTO syncapi_room_state (room_id, in_invite_state, event_type, state_key, event_json)
  VALUES ($1, $2, $3, $4, $5)`

const deleteRoomEventsSQL = "DELETE FROM syncapi_room_events WHERE room_id = $1"

const insertRoomEventSQL = `INSERT INTO syncapi_room_events (room_id, stream, event_json)
  VALUES ($1, $2, $3)`

const upsertSyncTokenSQL = `INSERT INTO syncapi_sync_token (lock, token) VALUES (0, $1)
  ON CONFLICT (lock) DO UPDATE SET token = $1`

const selectSyncTokenSQL = "SELECT token FROM syncapi_sync_token WHERE lock = 0"

const selectSnapshotsSQL = "SELECT room_id, disposition, membership, prev_batch FROM syncapi_room_snapshots"

const selectRoomStateSQL = "SELECT room_id, in_invite_state, event_type, state_key, event_json FROM syncapi_room_state"

const selectRoomEventsSQL = "SELECT room_id, stream, event_json FROM syncapi_room_events ORDER BY id ASC"

// SyncStore persists room snapshots and the sync position in SQLite so a
// session can resume where it left off. Snapshot saves replace the room's
// rows wholesale inside one transaction; the member table is not persisted
// because it is derived from the state rows on load.
type SyncStore struct {
	db *sql.DB

	upsertSnapshot   *sql.Stmt
	deleteRoomState  *sql.Stmt
	insertRoomState  *sql.Stmt
	deleteRoomEvents *sql.Stmt
	insertRoomEvent  *sql.Stmt
	upsertSyncToken  *sql.Stmt
}

// NewSyncStore opens (creating if necessary) a sync store at the given
// SQLite data source name.
func NewSyncStore(dsn string) (*SyncStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sync store")
	}
	store, err := prepareSyncStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func prepareSyncStore(db *sql.DB) (*SyncStore, error) {
	if _, err := db.Exec(syncStoreSchema); err != nil {
		return nil, errors.Wrap(err, "failed to create sync store schema")
	}
	s := &SyncStore{db: db}
	for _, stmt := range []struct {
		target **sql.Stmt
		sql    string
	}{
		{&s.upsertSnapshot, upsertSnapshotSQL},
		{&s.deleteRoomState, deleteRoomStateSQL},
		{&s.insertRoomState, insertRoomStateSQL},
		{&s.deleteRoomEvents, deleteRoomEventsSQL},
		{&s.insertRoomEvent, insertRoomEventSQL},
		{&s.upsertSyncToken, upsertSyncTokenSQL},
	} {
		prepared, err := db.Prepare(stmt.sql)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to prepare %q", stmt.sql)
		}
		*stmt.target = prepared
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SyncStore) Close() error {
	return s.db.Close()
}

// SaveRoomSnapshot replaces the persisted rows for one room with the given
// snapshot.
func (s *SyncStore) SaveRoomSnapshot(ctx context.Context, snapshot *types.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin snapshot transaction")
	}
	defer tx.Rollback() // nolint: errcheck

	_, err = tx.StmtContext(ctx, s.upsertSnapshot).ExecContext(
		ctx, snapshot.RoomID, int(snapshot.Partition), snapshot.Membership, snapshot.PrevBatch,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert snapshot row")
	}
	if _, err = tx.StmtContext(ctx, s.deleteRoomState).ExecContext(ctx, snapshot.RoomID); err != nil {
		return errors.Wrap(err, "failed to clear state rows")
	}
	if _, err = tx.StmtContext(ctx, s.deleteRoomEvents).ExecContext(ctx, snapshot.RoomID); err != nil {
		return errors.Wrap(err, "failed to clear event rows")
	}

	if err = s.insertStateRows(ctx, tx, snapshot.RoomID, snapshot.State, false); err != nil {
		return err
	}
	if err = s.insertStateRows(ctx, tx, snapshot.RoomID, snapshot.InviteState, true); err != nil {
		return err
	}
	// Ephemeral events are transient and deliberately not persisted; a
	// restored session starts with an empty ephemeral set per room.
	if err = s.insertEventRows(ctx, tx, snapshot.RoomID, streamTimeline, snapshot.Timeline); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SyncStore) insertStateRows(
	ctx context.Context, tx *sql.Tx, roomID string,
	state map[types.StateKeyTuple]synctypes.ClientEvent, inviteState bool,
) error {
	for tuple, ev := range state {
		eventJSON, err := json.Marshal(ev)
		if err != nil {
			return errors.Wrap(err, "failed to marshal state event")
		}
		_, err = tx.StmtContext(ctx, s.insertRoomState).ExecContext(
			ctx, roomID, inviteState, tuple.EventType, tuple.StateKey, string(eventJSON),
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert state row")
		}
	}
	return nil
}

func (s *SyncStore) insertEventRows(
	ctx context.Context, tx *sql.Tx, roomID, stream string, events []synctypes.ClientEvent,
) error {
	for i := range events {
		eventJSON, err := json.Marshal(events[i])
		if err != nil {
			return errors.Wrap(err, "failed to marshal event")
		}
		_, err = tx.StmtContext(ctx, s.insertRoomEvent).ExecContext(ctx, roomID, stream, string(eventJSON))
		if err != nil {
			return errors.Wrap(err, "failed to insert event row")
		}
	}
	return nil
}

// SaveSyncToken records the position the next sync should resume from.
func (s *SyncStore) SaveSyncToken(ctx context.Context, token string) error {
	if _, err := s.upsertSyncToken.ExecContext(ctx, token); err != nil {
		return errors.Wrap(err, "failed to save sync token")
	}
	return nil
}

// LoadState reads back every persisted snapshot and the sync token. Member
// tables are rebuilt from the state rows.
func (s *SyncStore) LoadState(ctx context.Context) (types.SnapshotSet, string, error) {
	set := make(types.SnapshotSet)

	rows, err := s.db.QueryContext(ctx, selectSnapshotsSQL)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to select snapshots")
	}
	defer rows.Close() // nolint: errcheck
	for rows.Next() {
		var roomID, membership, prevBatch string
		var disposition int
		if err = rows.Scan(&roomID, &disposition, &membership, &prevBatch); err != nil {
			return nil, "", errors.Wrap(err, "failed to scan snapshot row")
		}
		snapshot := types.NewSnapshot(roomID)
		snapshot.Partition = types.Partition(disposition)
		snapshot.Membership = membership
		snapshot.PrevBatch = prevBatch
		set[roomID] = snapshot
	}
	if err = rows.Err(); err != nil {
		return nil, "", errors.Wrap(err, "failed to read snapshot rows")
	}

	if err = s.loadStateRows(ctx, set); err != nil {
		return nil, "", err
	}
	if err = s.loadEventRows(ctx, set); err != nil {
		return nil, "", err
	}

	var token string
	err = s.db.QueryRowContext(ctx, selectSyncTokenSQL).Scan(&token)
	if err != nil && err != sql.ErrNoRows {
		return nil, "", errors.Wrap(err, "failed to select sync token")
	}
	return set, token, nil
}

func (s *SyncStore) loadStateRows(ctx context.Context, set types.SnapshotSet) error {
	rows, err := s.db.QueryContext(ctx, selectRoomStateSQL)
	if err != nil {
		return errors.Wrap(err, "failed to select state rows")
	}
	defer rows.Close() // nolint: errcheck
	for rows.Next() {
		var roomID, eventType, stateKey, eventJSON string
		var inviteState bool
		if err = rows.Scan(&roomID, &inviteState, &eventType, &stateKey, &eventJSON); err != nil {
			return errors.Wrap(err, "failed to scan state row")
		}
		snapshot := set[roomID]
		if snapshot == nil {
			continue
		}
		var ev synctypes.ClientEvent
		if err = json.Unmarshal([]byte(eventJSON), &ev); err != nil {
			return errors.Wrap(err, "failed to unmarshal state event")
		}
		tuple := types.StateKeyTuple{EventType: eventType, StateKey: stateKey}
		if inviteState {
			snapshot.InviteState[tuple] = ev
			continue
		}
		snapshot.State[tuple] = ev
		if content, ok := synctypes.MemberContentFrom(&ev); ok {
			snapshot.Members[stateKey] = content
		}
	}
	return errors.Wrap(rows.Err(), "failed to read state rows")
}

func (s *SyncStore) loadEventRows(ctx context.Context, set types.SnapshotSet) error {
	rows, err := s.db.QueryContext(ctx, selectRoomEventsSQL)
	if err != nil {
		return errors.Wrap(err, "failed to select event rows")
	}
	defer rows.Close() // nolint: errcheck
	for rows.Next() {
		var roomID, stream, eventJSON string
		if err = rows.Scan(&roomID, &stream, &eventJSON); err != nil {
			return errors.Wrap(err, "failed to scan event row")
		}
		snapshot := set[roomID]
		if snapshot == nil {
			continue
		}
		var ev synctypes.ClientEvent
		if err = json.Unmarshal([]byte(eventJSON), &ev); err != nil {
			return errors.Wrap(err, "failed to unmarshal event")
		}
		if stream == streamTimeline {
			snapshot.Timeline = append(snapshot.Timeline, ev)
		}
	}
	return errors.Wrap(rows.Err(), "failed to read event rows")
}
