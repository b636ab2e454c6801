package cnmt

// Storage identifies which physical location a title's content was
// installed to or read from — distinguishing otherwise-identical
// (title_id, version) pairs coming from, say, a cartridge versus the
// built-in user save area.
type Storage int

const (
	StorageUnknown Storage = iota
	StorageGameCard
	StorageBuiltinUser
	StorageBuiltinSystem
	StorageSdCard
)

// entryKey is the 3-tuple content-graph entries are indexed by.
type entryKey struct {
	titleID uint64
	version uint32
	storage Storage
}

// Storage, TitleID and Version expose an entryKey's fields to callers
// outside the package — the type itself stays unexported so construction
// always goes through Graph.Put/Get.
func (k entryKey) Storage() Storage { return k.storage }
func (k entryKey) TitleID() uint64  { return k.titleID }
func (k entryKey) Version() uint32  { return k.version }

// Entry is one content-graph node: a parsed Meta plus its resolved
// parent, if this title is a patch or add-on linked to a base
// application present in the same graph.
type Entry struct {
	Key    entryKey
	Meta   *Meta
	Parent *Entry
}

// Graph is the in-memory content-graph built from every Meta the title
// registry (pkg/title) has resolved, keyed by (title_id, version,
// storage).
type Graph struct {
	entries map[entryKey]*Entry
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{entries: make(map[entryKey]*Entry)}
}

// Put inserts meta under its natural key and returns the created entry.
// Parent-linking for patches and add-ons happens lazily in LinkParents
// once every title that might be a base application has been inserted.
func (g *Graph) Put(meta *Meta, storage Storage) *Entry {
	key := entryKey{titleID: meta.TitleID, version: meta.Version, storage: storage}
	e := &Entry{Key: key, Meta: meta}
	g.entries[key] = e
	return e
}

// Get looks up an entry by its exact key.
func (g *Graph) Get(titleID uint64, version uint32, storage Storage) (*Entry, bool) {
	e, ok := g.entries[entryKey{titleID: titleID, version: version, storage: storage}]
	return e, ok
}

// LinkParents resolves, for every patch and add-on entry in the graph,
// the matching base-application entry when one is present in the same
// storage, using the id arithmetic: patch_id = app_id + 0x800; an
// add-on's base lies at (aoc_id & ^0xFFF) - 0x1000 rebased the same way.
// Entries whose base isn't present are left unlinked rather than
// erroring — an add-on can be installed ahead of
// its base title.
func (g *Graph) LinkParents() {
	for _, e := range g.entries {
		if e.Meta == nil {
			continue
		}
		var baseID uint64
		switch e.Meta.Type {
		case MetaTypePatch, MetaTypeDelta:
			baseID = e.Meta.TitleID - 0x800
		case MetaTypeAddOnContent:
			baseID = (e.Meta.TitleID &^ 0xFFF) - 0x1000
		default:
			continue
		}
		for _, candidate := range g.entries {
			if candidate.Meta != nil && candidate.Meta.TitleID == baseID && candidate.Key.storage == e.Key.storage {
				e.Parent = candidate
				break
			}
		}
	}
}

// Entries returns every entry currently in the graph, in no particular
// order.
func (g *Graph) Entries() []*Entry {
	out := make([]*Entry, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e)
	}
	return out
}
