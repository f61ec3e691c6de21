package generator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/topology"
)

func newTestEngine(t *testing.T) (*Engine, *topology.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := topology.NewStore(filepath.Join(dir, "registry.json"), zap.NewNop())
	out := filepath.Join(dir, "generated")
	return NewEngine(store, out, DefaultBaySettings, zap.NewNop()), store, out
}

func sw5Params(count int) Params {
	return Params{Name: "SW5", Prefix: "B-", Count: count, Start: 1, Pad: 2}
}

func TestGenerateFreshPaddock(t *testing.T) {
	engine, store, out := newTestEngine(t)

	res, err := engine.Generate(sw5Params(3))
	require.NoError(t, err)
	assert.Equal(t, "sw5", res.Slug)
	assert.True(t, res.Rebuilt)
	assert.Equal(t, []string{"B-01", "B-02", "B-03"}, res.BayNames)
	assert.Equal(t, "B-03 Drain", res.DrainName)

	reg, err := store.Load()
	require.NoError(t, err)
	p, ok := reg.Paddock("sw5")
	require.True(t, ok)
	assert.Equal(t, "SW5", p.DisplayName)
	assert.False(t, p.Enabled)
	require.Len(t, p.Bays, 3)
	for _, b := range p.Bays {
		assert.Equal(t, "unset", b.Device)
		assert.Equal(t, "unset", b.SpurDevice)
		assert.Equal(t, "unset", b.ChannelDevice)
	}
	assert.Equal(t, "unset", p.Drain.Device)

	for _, name := range []string{"B-01", "B-02", "B-03"} {
		_, err := os.Stat(filepath.Join(out, "bays", "sw5", name+".yaml"))
		assert.NoError(t, err)
	}
	_, err = os.Stat(filepath.Join(out, "paddocks", "sw5.yaml"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "dashboard", "sw5.yaml"))
	assert.NoError(t, err)
}

func TestGeneratePreservesBindingsOnGrow(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	_, err := engine.Generate(sw5Params(3))
	require.NoError(t, err)

	// 绑定设备并启用，模拟运维配置
	reg, err := store.Load()
	require.NoError(t, err)
	p, _ := reg.Paddock("sw5")
	p.Enabled = true
	p.Bays[0].Device = "padman_101"
	p.Bays[1].Device = "padman_102"
	p.Bays[2].Device = "padman_103"
	p.Drain.Device = "padman_900"
	require.NoError(t, store.Save(reg))

	// 3格田扩到5格田
	res, err := engine.Generate(sw5Params(5))
	require.NoError(t, err)
	assert.False(t, res.Rebuilt)
	assert.Equal(t, 4, res.Preserved) // 3格田 + 排水
	assert.Equal(t, "B-05 Drain", res.DrainName)

	reg, err = store.Load()
	require.NoError(t, err)
	p, _ = reg.Paddock("sw5")
	assert.True(t, p.Enabled, "既有元数据不得被覆盖")
	require.Len(t, p.Bays, 5)
	assert.Equal(t, "padman_101", p.Bays[0].Device)
	assert.Equal(t, "padman_102", p.Bays[1].Device)
	assert.Equal(t, "padman_103", p.Bays[2].Device)
	assert.Equal(t, "unset", p.Bays[3].Device)
	assert.Equal(t, "unset", p.Bays[4].Device)
	assert.Equal(t, "B-05 Drain", p.Drain.Name)
	assert.Equal(t, "padman_900", p.Drain.Device, "末端排水为单例，改名后沿用绑定")
}

func TestGenerateOverwriteResetsBindings(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	_, err := engine.Generate(sw5Params(2))
	require.NoError(t, err)

	reg, _ := store.Load()
	p, _ := reg.Paddock("sw5")
	p.Bays[0].Device = "padman_101"
	require.NoError(t, store.Save(reg))

	params := sw5Params(2)
	params.Overwrite = true
	res, err := engine.Generate(params)
	require.NoError(t, err)
	assert.True(t, res.Rebuilt)
	assert.Equal(t, 0, res.Preserved)

	reg, _ = store.Load()
	p, _ = reg.Paddock("sw5")
	assert.Equal(t, "unset", p.Bays[0].Device)
}

func TestGeneratePrune(t *testing.T) {
	engine, store, out := newTestEngine(t)

	_, err := engine.Generate(sw5Params(5))
	require.NoError(t, err)

	params := sw5Params(3)
	params.Prune = true
	res, err := engine.Generate(params)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"B-04.yaml", "B-05.yaml"}, res.PrunedUnits)

	reg, err := store.Load()
	require.NoError(t, err)
	p, _ := reg.Paddock("sw5")
	assert.Len(t, p.Bays, 3)
	assert.Equal(t, "B-03 Drain", p.Drain.Name)

	_, err = os.Stat(filepath.Join(out, "bays", "sw5", "B-04.yaml"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(out, "bays", "sw5", "B-05.yaml"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(out, "bays", "sw5", "B-03.yaml"))
	assert.NoError(t, err)
}

func TestGenerateValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	tests := []struct {
		name   string
		params Params
	}{
		{"zero count", Params{Name: "SW5", Prefix: "B-", Count: 0, Start: 1, Pad: 2}},
		{"negative count", Params{Name: "SW5", Prefix: "B-", Count: -2, Start: 1, Pad: 2}},
		{"empty name", Params{Name: "  ", Prefix: "B-", Count: 3, Start: 1, Pad: 2}},
		{"empty prefix", Params{Name: "SW5", Prefix: "", Count: 3, Start: 1, Pad: 2}},
		{"zero start", Params{Name: "SW5", Prefix: "B-", Count: 3, Start: 0, Pad: 2}},
		{"pad too wide", Params{Name: "SW5", Prefix: "B-", Count: 3, Start: 1, Pad: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Generate(tt.params)
			assert.Error(t, err)
		})
	}
}

func TestGenerateStartIndexAndPad(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	res, err := engine.Generate(Params{Name: "East 2", Prefix: "Bay ", Count: 2, Start: 7, Pad: 3})
	require.NoError(t, err)
	assert.Equal(t, "east_2", res.Slug)
	assert.Equal(t, []string{"Bay 007", "Bay 008"}, res.BayNames)
	assert.Equal(t, "Bay 008 Drain", res.DrainName)

	reg, _ := store.Load()
	p, _ := reg.Paddock("east_2")
	assert.Equal(t, 7, p.Bays[0].Number)
	assert.Equal(t, 8, p.Bays[1].Number)
}

func TestGenerateCorruptStoreBacksUpAndProceeds(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{broken"), 0o644))

	res, err := engine.Generate(sw5Params(3))
	require.NoError(t, err)
	assert.True(t, res.Rebuilt)

	_, err = os.Stat(store.Path() + ".bak.1")
	assert.NoError(t, err)

	reg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestBayUnitContents(t *testing.T) {
	engine, _, out := newTestEngine(t)

	_, err := engine.Generate(sw5Params(3))
	require.NoError(t, err)

	mid, err := LoadBayUnit(out, "sw5", "B-02")
	require.NoError(t, err)
	assert.Equal(t, "sw5", mid.Paddock)
	assert.Equal(t, 2, mid.Bay)
	assert.False(t, mid.Last)
	assert.Equal(t, models.ControlPointKey{Paddock: "sw5", Bay: 2, Role: models.RoleSupply}, mid.Keys.Supply)
	// 中间格田的下游排水即下一格田的进水闸
	assert.Equal(t, models.ControlPointKey{Paddock: "sw5", Bay: 3, Role: models.RoleSupply}, mid.Keys.Drain)
	assert.Equal(t, "paddisense/pwm/sw5/bay/2/mode/set", mid.Topics.ModeSet)
	assert.Equal(t, DefaultBaySettings, mid.Defaults)

	last, err := LoadBayUnit(out, "sw5", "B-03")
	require.NoError(t, err)
	assert.True(t, last.Last)
	assert.Equal(t, models.ControlPointKey{Paddock: "sw5", Bay: 3, Role: models.RoleDrain}, last.Keys.Drain)
}
