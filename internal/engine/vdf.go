package engine

import (
	"context"
	"path/filepath"

	"github.com/repeatfs/repeatfs/internal/vdf"
	"github.com/repeatfs/repeatfs/internal/vpath"
)

// VDFCandidates lists every VDF leaf the Resolver can produce for the
// base entity a "+" directory was opened on, for fsnode's ReadDirAll.
func (e *Engine) VDFCandidates(c *vpath.Classified) []vdf.Candidate {
	return e.Resolver.Matches(c.BaseName)
}

// inputPath is the path a rule's {input} placeholder expands to: the
// real backing path when the base entity is a real file, or a
// mount-relative path that re-enters the FUSE mount when the base is
// itself an unmaterialized VDF leaf (chained derivation hops).
func (e *Engine) inputPath(c *vpath.Classified) string {
	if c.BaseIsReal {
		return c.RealPath
	}
	return filepath.Join(e.MountPoint, c.VirtualBase)
}

// AcquireVDFLeaf resolves the rule producing c's leaf and starts (or
// joins) its build, returning the cache slot the caller reads from. The
// caller must call ReleaseVDFLeaf exactly once, typically on file handle
// Release, regardless of whether the build ever reaches Ready.
func (e *Engine) AcquireVDFLeaf(ctx context.Context, c *vpath.Classified, callerPID int) (*vdf.Slot, error) {
	rule, err := e.Resolver.Resolve(c.BaseName, c.LeafName)
	if err != nil {
		return nil, err
	}

	matches := rule.Match.FindStringSubmatch(c.BaseName)
	virtualLeaf := c.VirtualBase + e.Config.Suffix + "/" + c.LeafName
	key := vdf.CacheKey(virtualLeaf, rule)

	slot := e.Executor.Acquire(ctx, key, rule, e.inputPath(c), virtualLeaf, matches, callerPID)
	return slot, nil
}

// ReleaseVDFLeaf unregisters a reader previously returned by
// AcquireVDFLeaf.
func (e *Engine) ReleaseVDFLeaf(s *vdf.Slot) {
	e.Executor.Release(s)
}

// VDFLeafState exposes a slot's current state for getattr/readdir
// purposes (e.g. reporting size 0 for a Pending/Building leaf).
func VDFLeafState(s *vdf.Slot) (vdf.State, int64) {
	return s.State()
}
