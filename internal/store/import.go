package store

import "context"

// Import loads a Document into the store, creating File, Process, and IO
// Interval rows for every entry. Used by the export/import/re-export
// round-trip tests; the replicator works on the Document directly and
// does not call it.
func (s *Store) Import(ctx context.Context, doc *Document) error {
	for id, rec := range doc.File {
		f := &File{
			ID: id, Host: rec.Host, Dev: rec.Dev, Inode: rec.Inode,
			Path: rec.Path, Hash: rec.Hash, Size: rec.Size, Mtime: rec.Mtime,
			IsVdf: rec.Vdf,
		}
		if err := s.UpsertFile(ctx, f); err != nil {
			return err
		}
	}

	for id, rec := range doc.Process {
		p := &Process{
			ID: id, Host: rec.Host, PStart: rec.PStart, PID: rec.PID,
			ParentPID: rec.ParentPID, ParentStart: rec.ParentStart,
			Exe: rec.Exe, ExeHash: rec.Hash, Cmd: rec.Cmd, Env: rec.Env, Cwd: rec.Cwd,
		}
		if err := s.UpsertProcess(ctx, p); err != nil {
			return err
		}
	}

	if err := s.importIntervals(ctx, doc.Read, Read); err != nil {
		return err
	}
	return s.importIntervals(ctx, doc.Write, Write)
}

func (s *Store) importIntervals(ctx context.Context, recs map[string]*ioRecord, dir Direction) error {
	for _, rec := range recs {
		id, err := s.OpenInterval(ctx, rec.ProcessID, rec.FileID, dir, rec.Seq, rec.OpenTime)
		if err != nil {
			return err
		}
		if rec.CloseTime != nil {
			var bytes int64
			if rec.Bytes != nil {
				bytes = *rec.Bytes
			}
			if err := s.CloseInterval(ctx, id, *rec.CloseTime, bytes, rec.Truncated); err != nil {
				return err
			}
		}
	}
	return nil
}
