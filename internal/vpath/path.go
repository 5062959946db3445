// Package vpath implements a bidirectional, stateless classifier between
// mount-relative virtual paths and real backing paths, recognizing and
// iteratively resolving the VDF "+" suffix. It never touches VDF rules or
// runs derivations — that is the VDF Resolver's job (internal/vdf).
package vpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/repeatfs/repeatfs/internal/logging"
)

var pathLogger = logging.GetLogger().WithPrefix("vpath")

// ErrNotFound is returned when a "+" suffix appears at a position whose
// prefix does not name a real file.
var ErrNotFound = errors.New("virtual path not found")

// ErrChainTooDeep is returned when a chain of VDF hops exceeds the
// configured maximum depth.
var ErrChainTooDeep = errors.New("vdf chain too deep")

// DefaultMaxChainDepth is the default bound on VDF chaining.
const DefaultMaxChainDepth = 8

// DefaultSuffix is the reserved character marking a VDF pseudo-directory.
const DefaultSuffix = "+"

// Kind enumerates the three things a virtual path can classify as.
type Kind int

const (
	// KindReal names a real file or directory in the backing store.
	KindReal Kind = iota
	// KindVdfDir is a synthetic "X+" directory enumerating VDFs of X.
	KindVdfDir
	// KindVdfLeaf is a single VDF file inside a "X+" directory.
	KindVdfLeaf
)

func (k Kind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindVdfDir:
		return "vdf_dir"
	case KindVdfLeaf:
		return "vdf_leaf"
	default:
		return "unknown"
	}
}

// Classified is the result of translating one virtual path.
type Classified struct {
	Kind Kind

	// RealPath is the absolute backing-store path. Populated for KindReal,
	// and for KindVdfDir/KindVdfLeaf when the chain's base entity (depth 1)
	// is itself real — i.e. it is the path the base file would have on
	// disk, used by the VDF Resolver to run rules against a real input.
	RealPath string

	// VirtualBase is the virtual path (still containing any "+" ancestors)
	// of the entity this VDF hop is derived from. For a chain depth > 1 the
	// immediate base is itself a VDF leaf, not a real file.
	VirtualBase string

	// BaseName is the filename (no directory) of the entity a VDF
	// directory or leaf derives from, e.g. "A.fastq" for ".../A.fastq+".
	BaseName string

	// LeafName is populated for KindVdfLeaf: the requested filename inside
	// the "+" directory, e.g. "A.fastq.fasta".
	LeafName string

	// ChainDepth is the number of "+" hops resolved to reach this
	// classification (0 for KindReal).
	ChainDepth int

	// BaseIsReal is true when BaseName/VirtualBase names a real backing
	// file rather than a previously-resolved VDF leaf.
	BaseIsReal bool
}

// Translator classifies mount-relative virtual paths.
type Translator struct {
	sourceRoot    string
	suffix        string
	maxChainDepth int
	statFn        func(string) (os.FileInfo, error)
}

// NewTranslator creates a Translator rooted at sourceRoot, using "+" as the
// VDF suffix and the default chain depth bound.
func NewTranslator(sourceRoot string) *Translator {
	return &Translator{
		sourceRoot:    sourceRoot,
		suffix:        DefaultSuffix,
		maxChainDepth: DefaultMaxChainDepth,
		statFn:        os.Stat,
	}
}

// WithSuffix overrides the VDF suffix character (configuration key
// "suffix").
func (t *Translator) WithSuffix(suffix string) *Translator {
	t.suffix = suffix
	return t
}

// WithMaxChainDepth overrides the chain depth bound.
func (t *Translator) WithMaxChainDepth(depth int) *Translator {
	t.maxChainDepth = depth
	return t
}

// RealPath joins a virtual-relative path onto the source root, without any
// classification. Used by callers that already know a path is real.
func (t *Translator) RealPath(relative string) string {
	return filepath.Join(t.sourceRoot, relative)
}

// Classify translates a mount-relative virtual path into its
// classification, iteratively resolving internal "+" components.
func (t *Translator) Classify(virtual string) (*Classified, error) {
	clean := strings.Trim(filepath.Clean("/"+virtual), "/")
	if clean == "." {
		clean = ""
	}

	pathLogger.Trace("classifying %q", virtual)

	if clean == "" {
		return &Classified{Kind: KindReal, RealPath: t.sourceRoot}, nil
	}

	components := strings.Split(clean, "/")

	var (
		realPrefix     = t.sourceRoot
		virtualBase    = ""
		chainDepth     = 0
		inVdfDir       = false
		contextName    = ""
		contextIsReal  = true
		contextVirtual = ""
	)

	for i, comp := range components {
		last := i == len(components)-1

		if t.isPlusSuffixed(comp) {
			name := t.stripSuffix(comp)
			if name == "" {
				return nil, fmt.Errorf("%w: empty name before %q suffix in %q", ErrNotFound, t.suffix, virtual)
			}

			chainDepth++
			if chainDepth > t.maxChainDepth {
				return nil, fmt.Errorf("%w: depth %d exceeds max %d resolving %q", ErrChainTooDeep, chainDepth, t.maxChainDepth, virtual)
			}

			if !inVdfDir {
				// First hop: name must resolve to a real file.
				candidate := filepath.Join(realPrefix, name)
				if _, err := t.statFn(candidate); err != nil {
					return nil, fmt.Errorf("%w: %q is not a real file", ErrNotFound, candidate)
				}
				contextName = name
				contextIsReal = true
				contextVirtual = strings.TrimSuffix(virtualBase+"/"+name, "/")
				realPrefix = candidate
			} else {
				// Chained hop: name must extend the preceding VDF leaf
				// (leaf names are formed as baseName+ruleExt), since the
				// leaf itself is materialized lazily and there is no real
				// file to stat here.
				if name == contextName || !strings.HasPrefix(name, contextName) {
					return nil, fmt.Errorf("%w: %q does not extend the preceding VDF leaf %q", ErrNotFound, name, contextName)
				}
				contextVirtual = contextVirtual + t.suffix + "/" + name
				contextName = name
				contextIsReal = false
				realPrefix = ""
			}

			if last {
				return &Classified{
					Kind:        KindVdfDir,
					RealPath:    realPrefix,
					VirtualBase: contextVirtual,
					BaseName:    contextName,
					ChainDepth:  chainDepth,
					BaseIsReal:  contextIsReal,
				}, nil
			}

			inVdfDir = true
			virtualBase = contextVirtual
			continue
		}

		if inVdfDir {
			if !last {
				return nil, fmt.Errorf("%w: %q has a path component after a VDF leaf", ErrNotFound, virtual)
			}
			return &Classified{
				Kind:        KindVdfLeaf,
				RealPath:    realPrefix,
				VirtualBase: contextVirtual,
				BaseName:    contextName,
				LeafName:    comp,
				ChainDepth:  chainDepth,
				BaseIsReal:  contextIsReal,
			}, nil
		}

		realPrefix = filepath.Join(realPrefix, comp)
		virtualBase = virtualBase + "/" + comp

		if last {
			return &Classified{Kind: KindReal, RealPath: realPrefix}, nil
		}
	}

	// Unreachable: the loop always returns on the last component.
	return nil, ErrNotFound
}

func (t *Translator) isPlusSuffixed(comp string) bool {
	return strings.HasSuffix(comp, t.suffix) && comp != t.suffix
}

func (t *Translator) stripSuffix(comp string) string {
	return strings.TrimSuffix(comp, t.suffix)
}

// Shadowed reports whether a real filename is permanently hidden because it
// ends in the VDF suffix itself.
func (t *Translator) Shadowed(realName string) bool {
	return strings.HasSuffix(realName, t.suffix)
}
