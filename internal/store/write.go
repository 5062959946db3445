package store

import (
	"context"
	"database/sql"
	"encoding/json"
)

// UpsertFile creates f if its (host, dev, inode) identity is new, or
// updates its mutable attributes (path, hash, size, mtime) otherwise.
// f.ID is set from its identity tuple if empty.
func (s *Store) UpsertFile(ctx context.Context, f *File) error {
	if f.ID == "" {
		f.ID = FileID(f.Host, f.Dev, f.Inode)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO file (id, host, dev, inode, path, hash, size, mtime, is_vdf)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(host, dev, inode) DO UPDATE SET
				path = excluded.path,
				hash = CASE WHEN excluded.hash != '' THEN excluded.hash ELSE file.hash END,
				size = excluded.size,
				mtime = excluded.mtime
		`, f.ID, f.Host, f.Dev, f.Inode, f.Path, f.Hash, f.Size, f.Mtime, boolToInt(f.IsVdf))
		return err
	})
}

// UpdateFileHash recomputes File.Hash, Size, and Mtime after a
// close-after-write, mirroring the Tracker's close handling.
func (s *Store) UpdateFileHash(ctx context.Context, fileID, hash string, size int64, mtime float64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE file SET hash = ?, size = ?, mtime = ? WHERE id = ?
		`, hash, size, mtime, fileID)
		return err
	})
}

// MarkUnlinked records that a File's backing path was removed, without
// deleting its historical records — a File entity is never destroyed.
func (s *Store) MarkUnlinked(ctx context.Context, fileID string, at float64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE file SET unlinked_at = ? WHERE id = ?`, at, fileID)
		return err
	})
}

// MarkEscaped records that a rename moved a File's inode out of the
// mount (decided: keep the record, mark "escaped at T"; see DESIGN.md).
func (s *Store) MarkEscaped(ctx context.Context, fileID string, at float64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE file SET escaped_at = ? WHERE id = ?`, at, fileID)
		return err
	})
}

// RenameFile updates a File's display path without changing its
// identity — rename follows the inode, not the path.
func (s *Store) RenameFile(ctx context.Context, fileID, newPath string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE file SET path = ? WHERE id = ?`, newPath, fileID)
		return err
	})
}

// UpsertProcess creates p if its (host, pstart, pid) identity is new, or
// is a no-op otherwise — a Process is materialized on first IO observed
// for a PID. p.ID is set from its identity tuple if empty.
func (s *Store) UpsertProcess(ctx context.Context, p *Process) error {
	if p.ID == "" {
		p.ID = ProcessID(p.Host, p.PStart, p.PID)
	}

	cmdJSON, err := json.Marshal(p.Cmd)
	if err != nil {
		return err
	}
	envJSON, err := json.Marshal(p.Env)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO process (id, host, pstart, pid, parent_pid, parent_start, exe, exe_hash, cmd, env, cwd)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(host, pstart, pid) DO NOTHING
		`, p.ID, p.Host, p.PStart, p.PID, p.ParentPID, p.ParentStart, p.Exe, p.ExeHash, string(cmdJSON), string(envJSON), p.Cwd)
		if err != nil {
			return err
		}

		if p.ParentPID > 0 && p.ParentStart > 0 {
			parentID := ProcessID(p.Host, p.ParentStart, p.ParentPID)
			_, err = tx.ExecContext(ctx, `
				INSERT INTO fork_edge (parent_id, child_id)
				SELECT ?, ? WHERE EXISTS (SELECT 1 FROM process WHERE id = ?)
				ON CONFLICT DO NOTHING
			`, parentID, p.ID, parentID)
		}
		return err
	})
}

// SetExitStatus records a Process's terminal status. This happens
// exactly once — a second call is a harmless no-op.
func (s *Store) SetExitStatus(ctx context.Context, processID string, status int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE process SET exit_status = ? WHERE id = ? AND exit_status IS NULL
		`, status, processID)
		return err
	})
}

// OpenInterval creates an IO Interval in the open state. The caller
// supplies seq (the per-FD open-sequence number) to satisfy the
// interval's identity tuple.
func (s *Store) OpenInterval(ctx context.Context, processID, fileID string, dir Direction, seq int, openTime float64) (string, error) {
	id := IOIntervalID(processID, fileID, dir, seq)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO io_interval (id, process_id, file_id, direction, seq, open_time)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(process_id, file_id, direction, seq) DO NOTHING
		`, id, processID, fileID, dir, seq, openTime)
		return err
	})
	return id, err
}

// CloseInterval finalizes an open IO Interval with its close time and
// accumulated byte count.
func (s *Store) CloseInterval(ctx context.Context, intervalID string, closeTime float64, bytes int64, truncated bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE io_interval SET close_time = ?, bytes = ?, truncated = ?
			WHERE id = ? AND close_time IS NULL
		`, closeTime, bytes, boolToInt(truncated), intervalID)
		return err
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
