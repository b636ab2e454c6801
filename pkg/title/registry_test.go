package title

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartkit/nxcart/pkg/cnmt"
)

func TestAddOnIDRangeMatchesSpecExample(t *testing.T) {
	appID := uint64(0x0100ABCDEF000000)
	require.Equal(t, uint64(0x0100ABCDEF001000), AddOnBase(appID))
	require.True(t, IsAddOnID(appID, 0x0100ABCDEF001001))
	require.False(t, IsAddOnID(appID, 0x0100ABCDEF0017D2))
	require.True(t, IsAddOnID(appID, 0x0100ABCDEF0017D1))
}

func TestGenerateFilenameFullWithIllegalFsPolicy(t *testing.T) {
	info := &TitleInfo{TitleID: 0x01007EF00011E000, Version: 196608, Type: cnmt.MetaTypeApplication}
	got := GenerateFilename(info, "Zelda: BOTW", ConventionFull, CharPolicyIllegalFsOnly)
	require.Equal(t, "[Zelda_ BOTW] [01007EF00011E000][v196608][Application]", got)
}

func TestGenerateFilenameIdAndVersion(t *testing.T) {
	info := &TitleInfo{TitleID: 0x01007EF00011E000, Version: 196608, Type: cnmt.MetaTypeApplication}
	got := GenerateFilename(info, "Zelda: BOTW", ConventionIdAndVersion, CharPolicyNone)
	require.Equal(t, "01007EF00011E000_v196608_Application", got)
}

func buildGraphEntries() []*cnmt.Entry {
	g := cnmt.NewGraph()
	app := &cnmt.Meta{TitleID: 0x01007EF00011E000, Type: cnmt.MetaTypeApplication}
	patch := &cnmt.Meta{TitleID: 0x01007EF00011E800, Type: cnmt.MetaTypePatch}
	orphanPatch := &cnmt.Meta{TitleID: 0x0100000000000800, Type: cnmt.MetaTypePatch}

	g.Put(app, cnmt.StorageBuiltinUser)
	g.Put(patch, cnmt.StorageBuiltinUser)
	g.Put(orphanPatch, cnmt.StorageBuiltinUser)
	return g.Entries()
}

func TestRegistryUserApplicationDataResolvesPatch(t *testing.T) {
	r := NewRegistry()
	r.Rebuild(buildGraphEntries(), nil)

	data := r.UserApplicationData(cnmt.StorageBuiltinUser, 0x01007EF00011E000)
	require.NotNil(t, data.App)
	require.NotNil(t, data.Patch)
	require.Equal(t, uint64(0x01007EF00011E800), data.Patch.TitleID)
}

func TestRegistryOrphanTitlesFindsUnresolvedPatch(t *testing.T) {
	r := NewRegistry()
	r.Rebuild(buildGraphEntries(), nil)

	orphans := r.OrphanTitles()
	require.Len(t, orphans, 1)
	require.Equal(t, uint64(0x0100000000000800), orphans[0].TitleID)
}

func TestGamecardInsertionLatchClearsOnRead(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.IsGamecardInfoUpdated())
	r.NoteGamecardInsertion()
	require.True(t, r.IsGamecardInfoUpdated())
	require.False(t, r.IsGamecardInfoUpdated())
}
