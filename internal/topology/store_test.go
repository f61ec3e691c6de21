package topology

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
)

func testPaddock() *models.Paddock {
	return &models.Paddock{
		Slug:        "sw5",
		DisplayName: "SW5",
		Enabled:     true,
		Bays: []models.BayEntry{
			{Name: "B-01", Number: 1, Device: "padman_101", SpurDevice: "unset", ChannelDevice: "unset"},
			{Name: "B-02", Number: 2, Device: "padman_102", SpurDevice: "unset", ChannelDevice: "unset"},
			{Name: "B-03", Number: 3, Device: "unset", SpurDevice: "unset", ChannelDevice: "unset"},
		},
		Drain: models.DrainEntry{Name: "B-03 Drain", Device: "padman_104"},
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "registry.json"), zap.NewNop())

	reg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "registry.json"), zap.NewNop())

	reg := NewRegistry()
	reg.Upsert(testPaddock())
	require.NoError(t, store.Save(reg))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())

	p, ok := loaded.Paddock("sw5")
	require.True(t, ok)
	assert.Equal(t, "SW5", p.DisplayName)
	assert.True(t, p.Enabled)
	assert.False(t, p.Individual)
	require.Len(t, p.Bays, 3)
	assert.Equal(t, "B-01", p.Bays[0].Name)
	assert.Equal(t, 1, p.Bays[0].Number)
	assert.Equal(t, "padman_101", p.Bays[0].Device)
	assert.Equal(t, "B-03", p.Bays[2].Name)
	assert.Equal(t, "unset", p.Bays[2].Device)
	assert.Equal(t, "B-03 Drain", p.Drain.Name)
	assert.Equal(t, "padman_104", p.Drain.Device)
}

func TestStoreDocumentShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	store := NewStore(path, zap.NewNop())

	reg := NewRegistry()
	reg.Upsert(testPaddock())
	require.NoError(t, store.Save(reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string][]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	entries := doc["sw5"]
	require.Len(t, entries, 7) // 3条元数据 + 3格田 + 1排水

	// 元数据在前，随后按链序格田，末尾排水
	_, ok := entries[0]["display_name"]
	assert.True(t, ok)
	_, ok = entries[1]["enabled"]
	assert.True(t, ok)
	_, ok = entries[2]["automation_state_individual"]
	assert.True(t, ok)
	_, ok = entries[3]["B-01"]
	assert.True(t, ok)
	_, ok = entries[5]["B-03"]
	assert.True(t, ok)
	_, ok = entries[6]["B-03 Drain"]
	assert.True(t, ok)
}

func TestLoadNormalizesBindings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	raw := `{
		"sw5": [
			{"display_name": "SW5"},
			{"enabled": true},
			{"automation_state_individual": false},
			{"B-01": {"device": "None", "spur_device": "", "channel_device": "null"}},
			{"B-02": {"device": " UNSET ", "spur_device": "padman_77"}},
			{"B-02 Drain": {"device": "none"}}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	store := NewStore(path, zap.NewNop())
	reg, err := store.Load()
	require.NoError(t, err)

	p, ok := reg.Paddock("sw5")
	require.True(t, ok)
	assert.Equal(t, "unset", p.Bays[0].Device)
	assert.Equal(t, "unset", p.Bays[0].SpurDevice)
	assert.Equal(t, "unset", p.Bays[0].ChannelDevice)
	assert.Equal(t, "unset", p.Bays[1].Device)
	assert.Equal(t, "padman_77", p.Bays[1].SpurDevice)
	assert.Equal(t, "unset", p.Drain.Device)

	// 归一化幂等：再写一轮读回，结果不变
	require.NoError(t, store.Save(reg))
	again, err := store.Load()
	require.NoError(t, err)
	p2, _ := again.Paddock("sw5")
	assert.Equal(t, p.Bays, p2.Bays)
	assert.Equal(t, p.Drain, p2.Drain)
}

func TestLoadMalformedBacksUpAndReinitializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	garbage := []byte(`{"sw5": [{"B-01": "not-an-object"`)
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	store := NewStore(path, zap.NewNop())
	reg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())

	backed, err := os.ReadFile(path + ".bak.1")
	require.NoError(t, err)
	assert.Equal(t, garbage, backed)

	// 再次损坏取下一个编号
	garbage2 := []byte(`[]`)
	require.NoError(t, os.WriteFile(path, garbage2, 0o644))
	_, err = store.Load()
	require.NoError(t, err)
	backed2, err := os.ReadFile(path + ".bak.2")
	require.NoError(t, err)
	assert.Equal(t, garbage2, backed2)
}

func TestLoadUnreadableBackendFatal(t *testing.T) {
	// 目录当文件读，属于后端不可用而非文档损坏
	dir := t.TempDir()
	store := NewStore(dir, zap.NewNop())

	_, err := store.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSaveUnavailableBackendFatal(t *testing.T) {
	// 父“目录”是普通文件，MkdirAll必然失败
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	store := NewStore(filepath.Join(blocker, "registry.json"), zap.NewNop())
	err := store.Save(NewRegistry())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"SW5", "sw5"},
		{"North West 5", "north_west_5"},
		{"  Back  Creek  ", "back_creek"},
		{"B-7/East", "b_7_east"},
		{"paddock_9", "paddock_9"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.name), "Slugify(%q)", tt.name)
	}
}

func TestRegistryDeviceResolution(t *testing.T) {
	reg := NewRegistry()
	p := testPaddock()
	p.Bays[0].ChannelDevice = "padman_ch"
	p.Bays[1].SpurDevice = "padman_spur"
	reg.Upsert(p)

	dev, ok := reg.DeviceFor(models.ControlPointKey{Paddock: "sw5", Bay: 1, Role: models.RoleSupply})
	require.True(t, ok)
	assert.Equal(t, "padman_101", dev)

	dev, ok = reg.DeviceFor(models.ControlPointKey{Paddock: "sw5", Bay: 3, Role: models.RoleDrain})
	require.True(t, ok)
	assert.Equal(t, "padman_104", dev)

	dev, ok = reg.DeviceFor(models.ControlPointKey{Paddock: "sw5", Bay: 2, Role: models.RoleSpur})
	require.True(t, ok)
	assert.Equal(t, "padman_spur", dev)

	dev, ok = reg.DeviceFor(models.ControlPointKey{Paddock: "sw5", Bay: 1, Role: models.RoleChannel})
	require.True(t, ok)
	assert.Equal(t, "padman_ch", dev)

	_, ok = reg.DeviceFor(models.ControlPointKey{Paddock: "nope", Bay: 1, Role: models.RoleSupply})
	assert.False(t, ok)
	_, ok = reg.DeviceFor(models.ControlPointKey{Paddock: "sw5", Bay: 9, Role: models.RoleSupply})
	assert.False(t, ok)

	// 水深来源：中间格田取下一格田设备，末位取排水设备
	dev, ok = reg.DepthDeviceFor("sw5", 1)
	require.True(t, ok)
	assert.Equal(t, "padman_102", dev)
	dev, ok = reg.DepthDeviceFor("sw5", 3)
	require.True(t, ok)
	assert.Equal(t, "padman_104", dev)

	dev, ok = reg.ChannelDepthDeviceFor("sw5")
	require.True(t, ok)
	assert.Equal(t, "padman_101", dev)
}

func TestBayNumberFromName(t *testing.T) {
	n, ok := models.BayNumberFromName("B-01")
	require.True(t, ok)
	assert.Equal(t, 1, n)

	n, ok = models.BayNumberFromName("Bay 12")
	require.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = models.BayNumberFromName("B-03 Drain")
	assert.False(t, ok)

	_, ok = models.BayNumberFromName("")
	assert.False(t, ok)
}
