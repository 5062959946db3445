package fsnode

import (
	"context"
	"os"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/repeatfs/repeatfs/internal/engine"
	"github.com/repeatfs/repeatfs/internal/vdf"
	"github.com/repeatfs/repeatfs/internal/vpath"
)

// provKind distinguishes a VdfFile's three possible contents: a rule
// derivation's lazily-materialized output, or one of the two system
// provenance entries every "+" directory exposes.
type provKind int

const (
	provLeaf provKind = iota
	provJSON
	provHTML
)

// VdfFile is a single entry inside a "+" directory: a derived VDF leaf
// or a `<base>.provenance.{json,html}` entry, resolved lazily on Open.
type VdfFile struct {
	eng        *engine.Engine
	virtual    string
	classified *vpath.Classified
	kind       provKind
}

// newVdfFile classifies name (already resolved as c.LeafName) against
// the provenance entry names and, failing that, the VDF Resolver, so
// Lookup on an unrecognized leaf name fails with NotFound rather than
// lazily accepting anything.
func newVdfFile(eng *engine.Engine, virtual string, c *vpath.Classified) (fusefs.Node, error) {
	jsonName, htmlName := engine.ProvenanceEntryNames(c.BaseName)
	switch c.LeafName {
	case jsonName:
		return &VdfFile{eng: eng, virtual: virtual, classified: c, kind: provJSON}, nil
	case htmlName:
		return &VdfFile{eng: eng, virtual: virtual, classified: c, kind: provHTML}, nil
	default:
		if _, err := eng.Resolver.Resolve(c.BaseName, c.LeafName); err != nil {
			return nil, toFuseErr(err)
		}
		return &VdfFile{eng: eng, virtual: virtual, classified: c, kind: provLeaf}, nil
	}
}

func (vf *VdfFile) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = 0444
	a.Uid = uint32(os.Getuid())
	a.Gid = uint32(os.Getgid())

	// Size is reported best-effort: a rule leaf reports the bytes its
	// build has captured so far (0 before the build starts), and the
	// provenance JSON/HTML entries always report 0. No build or render is
	// run just to answer getattr.
	if vf.kind == provLeaf {
		if s, ok := vf.eng.Executor.Get(vf.cacheKeyHint()); ok {
			_, n := engine.VDFLeafState(s)
			a.Size = uint64(n)
		}
	}
	return nil
}

// cacheKeyHint mirrors engine.AcquireVDFLeaf's key derivation so Attr can
// peek at an already-building slot's size without starting a build or
// duplicating the Resolver call's error handling.
func (vf *VdfFile) cacheKeyHint() string {
	rule, err := vf.eng.Resolver.Resolve(vf.classified.BaseName, vf.classified.LeafName)
	if err != nil {
		return ""
	}
	virtualLeaf := vf.classified.VirtualBase + vf.eng.Config.Suffix + "/" + vf.classified.LeafName
	return vdf.CacheKey(virtualLeaf, rule)
}

func (vf *VdfFile) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	resp.Flags |= fuse.OpenDirectIO

	switch vf.kind {
	case provJSON:
		data, err := vf.eng.ProvenanceJSONForBase(ctx, vf.classified)
		if err != nil {
			return nil, toFuseErr(err)
		}
		return &bufferHandle{data: data}, nil
	case provHTML:
		data, err := vf.eng.ProvenanceHTMLForBase(ctx, vf.classified)
		if err != nil {
			return nil, toFuseErr(err)
		}
		return &bufferHandle{data: data}, nil
	default:
		pid := callerPID(req.Pid)
		slot, err := vf.eng.AcquireVDFLeaf(ctx, vf.classified, pid)
		if err != nil {
			return nil, toFuseErr(err)
		}
		return &vdfHandle{eng: vf.eng, slot: slot}, nil
	}
}

// bufferHandle serves a fully-rendered in-memory buffer, used for the
// provenance JSON/HTML entries.
type bufferHandle struct {
	data []byte
}

func (h *bufferHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	off := req.Offset
	if off >= int64(len(h.data)) {
		resp.Data = nil
		return nil
	}
	end := off + int64(req.Size)
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	resp.Data = h.data[off:end]
	return nil
}

func (h *bufferHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	return nil
}

// vdfHandle serves a derivation rule's lazily-materialized, possibly
// still-building output.
type vdfHandle struct {
	eng  *engine.Engine
	slot *vdf.Slot
}

func (h *vdfHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, err := h.slot.Read(buf, req.Offset)
	if err != nil {
		return toFuseErr(err)
	}
	resp.Data = buf[:n]
	return nil
}

func (h *vdfHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	h.eng.ReleaseVDFLeaf(h.slot)
	return nil
}

var (
	_ fusefs.Node       = (*VdfFile)(nil)
	_ fusefs.NodeOpener = (*VdfFile)(nil)

	_ fusefs.HandleReader   = (*bufferHandle)(nil)
	_ fusefs.HandleReleaser = (*bufferHandle)(nil)
	_ fusefs.HandleReader   = (*vdfHandle)(nil)
	_ fusefs.HandleReleaser = (*vdfHandle)(nil)
)
