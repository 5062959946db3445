package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/repeatfs/repeatfs/internal/errs"
)

// GetFileByIdentity looks up a File by its essential identity tuple.
func (s *Store) GetFileByIdentity(ctx context.Context, host string, dev, inode uint64) (*File, error) {
	return s.GetFile(ctx, FileID(host, dev, inode))
}

// GetFile looks up a File by ID, returning errs.NotFound if absent.
func (s *Store) GetFile(ctx context.Context, id string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, host, dev, inode, path, hash, size, mtime, is_vdf, unlinked_at, escaped_at
		FROM file WHERE id = ?
	`, id)

	f := &File{}
	var isVdf int
	if err := row.Scan(&f.ID, &f.Host, &f.Dev, &f.Inode, &f.Path, &f.Hash, &f.Size, &f.Mtime, &isVdf, &f.UnlinkedAt, &f.EscapedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New("store.get_file", id, errs.NotFound, err)
		}
		return nil, s.markUnavailable(err)
	}
	f.IsVdf = isVdf != 0
	return f, nil
}

// GetProcess looks up a Process by ID, returning errs.NotFound if absent.
func (s *Store) GetProcess(ctx context.Context, id string) (*Process, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, host, pstart, pid, parent_pid, parent_start, exe, exe_hash, cmd, env, cwd, exit_status
		FROM process WHERE id = ?
	`, id)

	p := &Process{}
	var cmdJSON, envJSON string
	if err := row.Scan(&p.ID, &p.Host, &p.PStart, &p.PID, &p.ParentPID, &p.ParentStart, &p.Exe, &p.ExeHash, &cmdJSON, &envJSON, &p.Cwd, &p.ExitStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New("store.get_process", id, errs.NotFound, err)
		}
		return nil, s.markUnavailable(err)
	}

	if err := json.Unmarshal([]byte(cmdJSON), &p.Cmd); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(envJSON), &p.Env); err != nil {
		return nil, err
	}
	return p, nil
}

// IntervalsForFile returns every IO Interval referencing fileID, ordered
// deterministically by (process start time, process id, sequence) — the
// traversal order the graph query component requires.
func (s *Store) IntervalsForFile(ctx context.Context, fileID string) ([]*IOInterval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT io.id, io.process_id, io.file_id, io.direction, io.seq, io.open_time, io.close_time, io.bytes, io.truncated
		FROM io_interval io
		JOIN process p ON p.id = io.process_id
		WHERE io.file_id = ?
		ORDER BY p.pstart, p.pid, io.seq
	`, fileID)
	if err != nil {
		return nil, s.markUnavailable(err)
	}
	defer rows.Close()

	return scanIntervals(rows)
}

// IntervalsForProcess returns every IO Interval belonging to processID,
// ordered by sequence number.
func (s *Store) IntervalsForProcess(ctx context.Context, processID string) ([]*IOInterval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, process_id, file_id, direction, seq, open_time, close_time, bytes, truncated
		FROM io_interval WHERE process_id = ? ORDER BY seq
	`, processID)
	if err != nil {
		return nil, s.markUnavailable(err)
	}
	defer rows.Close()

	return scanIntervals(rows)
}

func scanIntervals(rows *sql.Rows) ([]*IOInterval, error) {
	var out []*IOInterval
	for rows.Next() {
		iv := &IOInterval{}
		var truncated int
		if err := rows.Scan(&iv.ID, &iv.ProcessID, &iv.FileID, &iv.Direction, &iv.Seq, &iv.OpenTime, &iv.CloseTime, &iv.Bytes, &truncated); err != nil {
			return nil, err
		}
		iv.Truncated = truncated != 0
		out = append(out, iv)
	}
	return out, rows.Err()
}

// ForkParent returns the parent Process of id, if a Fork Edge is known.
func (s *Store) ForkParent(ctx context.Context, id string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT parent_id FROM fork_edge WHERE child_id = ?`, id)
	var parentID string
	if err := row.Scan(&parentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, s.markUnavailable(err)
	}
	return parentID, true, nil
}

// ForkChildren returns the children of id known via Fork Edge.
func (s *Store) ForkChildren(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT child_id FROM fork_edge WHERE parent_id = ? ORDER BY child_id`, id)
	if err != nil {
		return nil, s.markUnavailable(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
