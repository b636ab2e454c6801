// Package title implements the title registry: an arena-indexed set of
// resolved titles built from pkg/cnmt content-graph entries, id
// arithmetic linking applications to their patches and add-ons, filename
// generation, and the gamecard-insertion edge latch. The arena swap lets
// title/patch/add-on entries reference each other without a dangling
// pointer problem during a rebuild, and the edge latch mirrors the same
// edge-triggered notification style pkg/cartridge uses.
package title

import (
	"sync"

	"github.com/cartkit/nxcart/pkg/cnmt"
)

// AppMetadata is the localized presentation data attached to a title when
// available — name/author plus an icon blob, never required for the
// registry to function.
type AppMetadata struct {
	TitleID uint64
	Name    string
	Author  string
	Icon    []byte // JPEG bytes, nil if unavailable
}

// TitleInfo is one resolved registry entry.
type TitleInfo struct {
	id       uint32 // arena index, stable for the entry's lifetime
	Storage  cnmt.Storage
	TitleID  uint64
	Version  uint32
	Type     cnmt.MetaType
	Meta     *cnmt.Meta
	Metadata *AppMetadata
}

// UserApplicationData groups a base application with its installed patch
// and add-on content.
type UserApplicationData struct {
	App   *TitleInfo
	Patch *TitleInfo
	AddOn []*TitleInfo
}

// Registry is the title database: an arena of TitleInfo plus indices for
// lookup by (storage, title_id) and by arena id. Rebuilds replace the
// arena atomically so readers never observe a half-built registry.
type Registry struct {
	mu sync.RWMutex

	arena []*TitleInfo
	byKey map[registryKey]*TitleInfo

	gamecardUpdated bool
}

type registryKey struct {
	storage cnmt.Storage
	titleID uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[registryKey]*TitleInfo)}
}

// Rebuild replaces the registry's contents from a freshly-resolved set of
// content-graph entries, attaching metadata where meta supplies one for
// the same title id. The previous arena is discarded only after the new
// one is fully built.
func (r *Registry) Rebuild(entries []*cnmt.Entry, metadata map[uint64]*AppMetadata) {
	arena := make([]*TitleInfo, 0, len(entries))
	byKey := make(map[registryKey]*TitleInfo, len(entries))

	for i, e := range entries {
		if e.Meta == nil {
			continue
		}
		info := &TitleInfo{
			id:      uint32(len(arena)),
			Storage: e.Key.Storage(),
			TitleID: e.Meta.TitleID,
			Version: e.Meta.Version,
			Type:    e.Meta.Type,
			Meta:    e.Meta,
		}
		if metadata != nil {
			info.Metadata = metadata[info.TitleID]
		}
		arena = append(arena, info)
		byKey[registryKey{storage: info.Storage, titleID: info.TitleID}] = info
	}

	r.mu.Lock()
	r.arena = arena
	r.byKey = byKey
	r.mu.Unlock()
}

// MetadataEntries returns every title's AppMetadata; system selects
// between system titles (meta types below 0x80) and user titles.
func (r *Registry) MetadataEntries(system bool) []AppMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AppMetadata
	for _, info := range r.arena {
		isSystem := info.Type < 0x80
		if isSystem != system {
			continue
		}
		if info.Metadata != nil {
			out = append(out, *info.Metadata)
		}
	}
	return out
}

// TitleInfoFor resolves one entry by storage and title id.
func (r *Registry) TitleInfoFor(storage cnmt.Storage, titleID uint64) (*TitleInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byKey[registryKey{storage: storage, titleID: titleID}]
	return info, ok
}

// PatchID returns the patch title id for a base application id.
func PatchID(appID uint64) uint64 { return appID + 0x800 }

// AddOnBase returns the base add-on-content id range anchor for a base
// application id; valid add-on ids lie in (base, base+0x7D1].
func AddOnBase(appID uint64) uint64 { return (appID &^ 0xFFF) + 0x1000 }

// IsAddOnID reports whether candidateID is a valid add-on-content id for
// the application identified by appID.
func IsAddOnID(appID, candidateID uint64) bool {
	base := AddOnBase(appID)
	return candidateID > base && candidateID <= base+0x7D1
}

// UserApplicationData resolves the base app, its patch, and every add-on
// present in the given storage for appID.
func (r *Registry) UserApplicationData(storage cnmt.Storage, appID uint64) UserApplicationData {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var data UserApplicationData
	if app, ok := r.byKey[registryKey{storage: storage, titleID: appID}]; ok {
		data.App = app
	}
	if patch, ok := r.byKey[registryKey{storage: storage, titleID: PatchID(appID)}]; ok {
		data.Patch = patch
	}
	for _, info := range r.arena {
		if info.Storage == storage && IsAddOnID(appID, info.TitleID) {
			data.AddOn = append(data.AddOn, info)
		}
	}
	return data
}

// OrphanTitles returns every patch or add-on present in the registry
// whose base application cannot be resolved in the same storage —
// titles installed ahead of (or orphaned from) their parent.
func (r *Registry) OrphanTitles() []*TitleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*TitleInfo
	for _, info := range r.arena {
		var baseID uint64
		switch info.Type {
		case cnmt.MetaTypePatch, cnmt.MetaTypeDelta:
			baseID = info.TitleID - 0x800
		case cnmt.MetaTypeAddOnContent:
			baseID = AddOnBase(info.TitleID) - 0x1000
		default:
			continue
		}
		if _, ok := r.byKey[registryKey{storage: info.Storage, titleID: baseID}]; !ok {
			out = append(out, info)
		}
	}
	return out
}

// NoteGamecardInsertion latches the edge-triggered "gamecard info
// changed" flag; IsGamecardInfoUpdated clears it on read.
func (r *Registry) NoteGamecardInsertion() {
	r.mu.Lock()
	r.gamecardUpdated = true
	r.mu.Unlock()
}

// IsGamecardInfoUpdated reports and clears the latch set by
// NoteGamecardInsertion.
func (r *Registry) IsGamecardInfoUpdated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.gamecardUpdated
	r.gamecardUpdated = false
	return v
}
