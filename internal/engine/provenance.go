package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/repeatfs/repeatfs/internal/graph"
	"github.com/repeatfs/repeatfs/internal/render"
	"github.com/repeatfs/repeatfs/internal/store"
	"github.com/repeatfs/repeatfs/internal/tracker"
	"github.com/repeatfs/repeatfs/internal/vpath"
)

// FileIdentity resolves realPath's essential (host, dev, inode) identity
// and the stable File ID derived from it.
func (e *Engine) FileIdentity(realPath string) (fileID string, err error) {
	info, err := os.Stat(realPath)
	if err != nil {
		return "", err
	}
	dev, inode := tracker.Identity(info)
	return store.FileID(e.Host, dev, inode), nil
}

// virtualFileIdentity resolves a VDF leaf's synthetic File ID, identical
// to the identity the Tracker assigned it when recording its build
// (internal/tracker/pipe.go's syntheticIdentity).
func (e *Engine) virtualFileIdentity(virtualPath string) string {
	dev, inode := tracker.SyntheticIdentity(virtualPath)
	return store.FileID(e.Host, dev, inode)
}

// BaseFileIdentity resolves the File ID of the entity a "+" directory (or
// leaf) classification is derived from: a real file's on-disk identity at
// chain depth 1, or a VDF leaf's synthetic identity at any deeper hop.
func (e *Engine) BaseFileIdentity(c *vpath.Classified) (string, error) {
	if c.BaseIsReal {
		return e.FileIdentity(c.RealPath)
	}
	return e.virtualFileIdentity(c.VirtualBase), nil
}

// ExportProvenanceForBase produces the full causal-closure provenance
// Document for the entity c's "+" directory is derived from.
func (e *Engine) ExportProvenanceForBase(ctx context.Context, c *vpath.Classified) (*store.Document, error) {
	fileID, err := e.BaseFileIdentity(c)
	if err != nil {
		return nil, err
	}
	return e.Store.Export(ctx, fileID)
}

// ProvenanceJSONForBase renders the byte-stable JSON document backing
// the `F.provenance.json` synthetic VDF.
func (e *Engine) ProvenanceJSONForBase(ctx context.Context, c *vpath.Classified) ([]byte, error) {
	doc, err := e.ExportProvenanceForBase(ctx, c)
	if err != nil {
		return nil, err
	}
	return render.JSON(doc)
}

// ProvenanceHTMLForBase renders the minimal human-readable page backing
// the `F.provenance.html` synthetic VDF.
func (e *Engine) ProvenanceHTMLForBase(ctx context.Context, c *vpath.Classified) ([]byte, error) {
	doc, err := e.ExportProvenanceForBase(ctx, c)
	if err != nil {
		return nil, err
	}
	return render.HTML(doc)
}

// ProvenanceGraphForBase runs the reverse causal-graph traversal rooted
// at c's base entity, bounded by maxDepth (<0 for unbounded).
func (e *Engine) ProvenanceGraphForBase(ctx context.Context, c *vpath.Classified, maxDepth int) (*graph.SubGraph, error) {
	fileID, err := e.BaseFileIdentity(c)
	if err != nil {
		return nil, err
	}
	return graph.Query(ctx, e.Store, fileID, maxDepth)
}

// ProvenanceEntryNames returns the canonical system VDF entry names for
// baseName's "+" directory: the provenance JSON/HTML pair every file
// (real or VDF) gets.
func ProvenanceEntryNames(baseName string) (jsonName, htmlName string) {
	return fmt.Sprintf("%s.provenance.json", baseName), fmt.Sprintf("%s.provenance.html", baseName)
}
