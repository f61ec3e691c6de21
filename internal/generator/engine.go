package generator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/topology"
)

// Params 一次生成操作的输入
type Params struct {
	Name      string // 田块显示名，slug由此确定性派生
	Prefix    string // 格田名前缀（如 "B-"）
	Count     int    // 格田数量
	Start     int    // 起始序号（默认1）
	Pad       int    // 序号补零宽度（默认2）
	Overwrite bool   // 重建条目，绑定全部置 unset
	Prune     bool   // 隐含 Overwrite，并删除越界的格田配置单元
}

// Validate 参数校验；不合法的输入直接拒绝，不碰存储
func (p *Params) Validate() error {
	if topology.Slugify(p.Name) == "" {
		return fmt.Errorf("invalid paddock name: %q", p.Name)
	}
	if p.Prefix == "" {
		return fmt.Errorf("bay name prefix must not be empty")
	}
	if p.Count < 1 {
		return fmt.Errorf("invalid bay count: %d", p.Count)
	}
	if p.Start < 1 {
		return fmt.Errorf("invalid start index: %d", p.Start)
	}
	if p.Pad < 1 || p.Pad > 4 {
		return fmt.Errorf("invalid pad width: %d", p.Pad)
	}
	return nil
}

// Result 生成结果摘要
type Result struct {
	Slug        string
	DisplayName string
	BayNames    []string
	DrainName   string
	Rebuilt     bool     // 条目为新建或被覆盖重建
	Preserved   int      // 按名沿用的设备绑定数（含排水）
	PrunedUnits []string // 删除的越界配置单元文件
}

// Engine 合并/生成引擎：维护拓扑存储条目并产出配置单元
type Engine struct {
	store    *topology.Store
	outDir   string
	defaults models.BaySettings
	logger   *zap.Logger
}

// NewEngine 创建生成引擎。defaults 为写入格田配置单元的初始控制参数。
func NewEngine(store *topology.Store, outDir string, defaults models.BaySettings, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		outDir:   outDir,
		defaults: defaults,
		logger:   logger,
	}
}

// Generate 执行一次生成：读入存储（损坏则备份重建）、合并条目、
// 原子写回，再产出配置单元与面板片段。存储后端不可用时中止，不留部分状态。
func (e *Engine) Generate(p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	overwrite := p.Overwrite || p.Prune

	reg, err := e.store.Load()
	if err != nil {
		return nil, err
	}

	slug := topology.Slugify(p.Name)
	existing, found := reg.Paddock(slug)
	preserve := found && !overwrite

	merged := &models.Paddock{Slug: slug, DisplayName: p.Name}
	if preserve {
		// 元数据只回填缺省，绝不覆盖既有值
		merged.DisplayName = existing.DisplayName
		merged.Enabled = existing.Enabled
		merged.Individual = existing.Individual
	}

	result := &Result{
		Slug:        slug,
		DisplayName: merged.DisplayName,
		Rebuilt:     !preserve,
	}

	for i := 0; i < p.Count; i++ {
		n := p.Start + i
		bay := models.BayEntry{
			Name:          fmt.Sprintf("%s%0*d", p.Prefix, p.Pad, n),
			Number:        n,
			Device:        models.Unset,
			SpurDevice:    models.Unset,
			ChannelDevice: models.Unset,
		}
		if preserve {
			if old, ok := bayByName(existing, bay.Name); ok {
				bay.Device = old.Device
				bay.SpurDevice = old.SpurDevice
				bay.ChannelDevice = old.ChannelDevice
				if models.IsBound(old.Device) || models.IsBound(old.SpurDevice) || models.IsBound(old.ChannelDevice) {
					result.Preserved++
				}
			}
		}
		merged.Bays = append(merged.Bays, bay)
		result.BayNames = append(result.BayNames, bay.Name)
	}

	lastName := merged.Bays[len(merged.Bays)-1].Name
	merged.Drain = models.DrainEntry{Name: topology.DrainName(lastName), Device: models.Unset}
	if preserve && models.IsBound(existing.Drain.Device) {
		// 末端排水是田块单例，改名（格田数变化）也沿用绑定
		merged.Drain.Device = existing.Drain.Device
		result.Preserved++
	}
	result.DrainName = merged.Drain.Name

	reg.Upsert(merged)
	if err := e.store.Save(reg); err != nil {
		return nil, err
	}

	if err := e.emitUnits(merged); err != nil {
		return nil, err
	}

	if p.Prune {
		pruned, err := e.pruneBayUnits(slug, p.Start, p.Start+p.Count-1)
		if err != nil {
			return nil, err
		}
		result.PrunedUnits = pruned
	}

	e.logger.Info("Paddock generated",
		zap.String("paddock", slug),
		zap.Int("bays", p.Count),
		zap.Bool("rebuilt", result.Rebuilt),
		zap.Int("preserved_bindings", result.Preserved),
		zap.Int("pruned_units", len(result.PrunedUnits)))
	return result, nil
}

func bayByName(p *models.Paddock, name string) (*models.BayEntry, bool) {
	for i := range p.Bays {
		if p.Bays[i].Name == name {
			return &p.Bays[i], true
		}
	}
	return nil, false
}
