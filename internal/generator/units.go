package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/topics"
)

// BayUnit 格田控制配置单元。生成器产出，守护进程启动时读入初始参数；
// 控制点键在此一次性构造，运行期不再从字符串反解。
type BayUnit struct {
	Paddock string `yaml:"paddock"`
	Bay     int    `yaml:"bay"`
	Name    string `yaml:"name"`
	Last    bool   `yaml:"last"`
	Keys    struct {
		Supply models.ControlPointKey `yaml:"supply"`
		Drain  models.ControlPointKey `yaml:"drain"` // 下游排水：中间格田为下一格田进水闸，末位为末端排水
	} `yaml:"keys"`
	Topics struct {
		ModeSet       string `yaml:"mode_set"`
		ModeState     string `yaml:"mode_state"`
		ThresholdsSet string `yaml:"thresholds_set"`
		FlushActive   string `yaml:"flush_active"`
		Depth         string `yaml:"depth"`
	} `yaml:"topics"`
	Defaults models.BaySettings `yaml:"defaults"`
}

// PaddockUnit 田块级配置单元
type PaddockUnit struct {
	Paddock  string   `yaml:"paddock"`
	Name     string   `yaml:"name"`
	Bays     []int    `yaml:"bays"`
	BayNames []string `yaml:"bay_names"`
	Topics   struct {
		ModeSet   string `yaml:"mode_set"`
		ModeState string `yaml:"mode_state"`
		Event     string `yaml:"event"`
	} `yaml:"topics"`
}

// DashboardCard 面板片段中的一张卡片
type DashboardCard struct {
	Type       string `yaml:"type"`
	Name       string `yaml:"name"`
	ModeTopic  string `yaml:"mode_topic"`
	DepthTopic string `yaml:"depth_topic,omitempty"`
	FlushTopic string `yaml:"flush_topic,omitempty"`
}

// DashboardFragment 田块面板布局片段
type DashboardFragment struct {
	Title string          `yaml:"title"`
	Cards []DashboardCard `yaml:"cards"`
}

// emitUnits 产出每格田配置单元、田块配置单元与面板片段
func (e *Engine) emitUnits(p *models.Paddock) error {
	bayDir := filepath.Join(e.outDir, "bays", p.Slug)
	if err := os.MkdirAll(bayDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", bayDir, err)
	}

	last := p.LastBayNumber()
	for _, b := range p.Bays {
		unit := BayUnit{
			Paddock:  p.Slug,
			Bay:      b.Number,
			Name:     b.Name,
			Last:     b.Number == last,
			Defaults: e.defaults,
		}
		unit.Keys.Supply = models.ControlPointKey{Paddock: p.Slug, Bay: b.Number, Role: models.RoleSupply}
		if b.Number == last {
			unit.Keys.Drain = models.ControlPointKey{Paddock: p.Slug, Bay: b.Number, Role: models.RoleDrain}
		} else {
			unit.Keys.Drain = models.ControlPointKey{Paddock: p.Slug, Bay: b.Number + 1, Role: models.RoleSupply}
		}
		unit.Topics.ModeSet = topics.BayModeSet(p.Slug, b.Number)
		unit.Topics.ModeState = topics.BayModeState(p.Slug, b.Number)
		unit.Topics.ThresholdsSet = topics.BayThresholdsSet(p.Slug, b.Number)
		unit.Topics.FlushActive = topics.BayFlushActive(p.Slug, b.Number)
		unit.Topics.Depth = topics.BayDepth(p.Slug, b.Number)

		if err := writeYAML(filepath.Join(bayDir, b.Name+".yaml"), &unit); err != nil {
			return err
		}
	}

	paddockUnit := PaddockUnit{Paddock: p.Slug, Name: p.DisplayName}
	for _, b := range p.Bays {
		paddockUnit.Bays = append(paddockUnit.Bays, b.Number)
		paddockUnit.BayNames = append(paddockUnit.BayNames, b.Name)
	}
	paddockUnit.Topics.ModeSet = topics.PaddockModeSet(p.Slug)
	paddockUnit.Topics.ModeState = topics.PaddockModeState(p.Slug)
	paddockUnit.Topics.Event = topics.Event()

	paddockDir := filepath.Join(e.outDir, "paddocks")
	if err := os.MkdirAll(paddockDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", paddockDir, err)
	}
	if err := writeYAML(filepath.Join(paddockDir, p.Slug+".yaml"), &paddockUnit); err != nil {
		return err
	}

	fragment := DashboardFragment{Title: p.DisplayName}
	fragment.Cards = append(fragment.Cards, DashboardCard{
		Type:      "paddock-mode",
		Name:      p.DisplayName,
		ModeTopic: topics.PaddockModeState(p.Slug),
	})
	for _, b := range p.Bays {
		fragment.Cards = append(fragment.Cards, DashboardCard{
			Type:       "bay",
			Name:       b.Name,
			ModeTopic:  topics.BayModeState(p.Slug, b.Number),
			DepthTopic: topics.BayDepth(p.Slug, b.Number),
			FlushTopic: topics.BayFlushActive(p.Slug, b.Number),
		})
	}

	dashDir := filepath.Join(e.outDir, "dashboard")
	if err := os.MkdirAll(dashDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dashDir, err)
	}
	return writeYAML(filepath.Join(dashDir, p.Slug+".yaml"), &fragment)
}

// pruneBayUnits 删除序号越界的格田配置单元，返回被删文件名
func (e *Engine) pruneBayUnits(slug string, lo, hi int) ([]string, error) {
	bayDir := filepath.Join(e.outDir, "bays", slug)
	entries, err := os.ReadDir(bayDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read unit dir %s: %w", bayDir, err)
	}

	var pruned []string
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".yaml") {
			continue
		}
		stem := strings.TrimSuffix(ent.Name(), ".yaml")
		n, ok := models.BayNumberFromName(stem)
		if !ok {
			continue
		}
		if n >= lo && n <= hi {
			continue
		}
		if err := os.Remove(filepath.Join(bayDir, ent.Name())); err != nil {
			return pruned, fmt.Errorf("prune unit %s: %w", ent.Name(), err)
		}
		pruned = append(pruned, ent.Name())
	}
	return pruned, nil
}

// LoadBayUnit 读入格田配置单元；文件缺失返回 os.ErrNotExist
func LoadBayUnit(outDir, slug, bayName string) (*BayUnit, error) {
	path := filepath.Join(outDir, "bays", slug, bayName+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var unit BayUnit
	if err := yaml.Unmarshal(data, &unit); err != nil {
		return nil, fmt.Errorf("decode bay unit %s: %w", path, err)
	}
	return &unit, nil
}

func writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// 生成的配置单元缺省控制参数
var DefaultBaySettings = models.BaySettings{
	DepthMin:         -2.0,
	DepthMax:         1.0,
	DepthOffset:      0.0,
	FlushHoldMinutes: 240,
}

// 拓扑存储与产出目录的缺省位置
const (
	DefaultStorePath = "/config/local_data/pwm/registry.json"
	DefaultOutDir    = "/config/local_data/pwm/generated"
)
