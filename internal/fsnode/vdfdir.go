package fsnode

import (
	"context"
	"os"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/repeatfs/repeatfs/internal/engine"
	"github.com/repeatfs/repeatfs/internal/vpath"
)

// VdfDir is a synthetic "X+" directory: read-only, enumerating the
// provenance JSON/HTML pair and every VDF leaf the Resolver can produce
// for its base entity. It is reachable only via a direct Lookup on its
// parent real Dir — it never appears in that parent's ReadDirAll.
type VdfDir struct {
	eng        *engine.Engine
	virtual    string
	classified *vpath.Classified
}

func (d *VdfDir) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0555
	a.Uid = uint32(os.Getuid())
	a.Gid = uint32(os.Getgid())
	return nil
}

func (d *VdfDir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	virtual := joinVirtual(d.virtual, name)
	c, err := d.eng.Translator.Classify(virtual)
	if err != nil {
		return nil, toFuseErr(err)
	}
	return nodeFor(d.eng, virtual, c)
}

func (d *VdfDir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	entries := []fuse.Dirent{
		{Name: ".", Type: fuse.DT_Dir},
		{Name: "..", Type: fuse.DT_Dir},
	}

	jsonName, htmlName := engine.ProvenanceEntryNames(d.classified.BaseName)
	entries = append(entries,
		fuse.Dirent{Name: jsonName, Type: fuse.DT_File},
		fuse.Dirent{Name: htmlName, Type: fuse.DT_File},
	)

	for _, cand := range d.eng.VDFCandidates(d.classified) {
		entries = append(entries, fuse.Dirent{Name: cand.LeafName, Type: fuse.DT_File})
	}
	return entries, nil
}

var (
	_ fusefs.Node               = (*VdfDir)(nil)
	_ fusefs.NodeStringLookuper = (*VdfDir)(nil)
	_ fusefs.HandleReadDirAller = (*VdfDir)(nil)
)
