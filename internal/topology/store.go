package topology

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
)

// ErrStoreUnavailable 存储后端不可用（文件不可读、目录不可建、写入失败）。
// 与文档损坏不同：损坏可备份后重建，后端不可用必须中止本次操作。
var ErrStoreUnavailable = errors.New("topology store unavailable")

// drainSuffix 末端排水条目的命名后缀
const drainSuffix = " Drain"

// Store 田块拓扑存储。单个JSON文档，键为田块slug，
// 值为有序条目列表：元数据在前，随后每格田一条，末尾一条排水。
// 写入走临时文件+rename，崩溃时不留半写状态。
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore 创建拓扑存储
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path 存储文件路径
func (s *Store) Path() string {
	return s.path
}

// Load 载入拓扑文档。文件缺失视为空库；文档损坏时先做编号备份、
// 告警并按空库继续（非致命）；后端读取失败为致命错误。
func (s *Store) Load() (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(), nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrStoreUnavailable, s.path, err)
	}

	reg, err := parseDocument(data)
	if err != nil {
		backup, berr := s.backupCorrupt()
		if berr != nil {
			return nil, fmt.Errorf("%w: backup corrupt store: %v", ErrStoreUnavailable, berr)
		}
		s.logger.Warn("Topology store malformed, backed up and reinitialized",
			zap.String("path", s.path),
			zap.String("backup", backup),
			zap.Error(err))
		return NewRegistry(), nil
	}
	return reg, nil
}

// Save 原子化写出拓扑文档：写入同目录临时文件后rename替换
func (s *Store) Save(reg *Registry) error {
	data, err := serializeDocument(reg)
	if err != nil {
		return fmt.Errorf("serialize topology document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrStoreUnavailable, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrStoreUnavailable, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp file: %v", ErrStoreUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync temp file: %v", ErrStoreUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file: %v", ErrStoreUnavailable, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename into place: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// backupCorrupt 把损坏文档复制到首个空闲的 <path>.bak.N
func (s *Store) backupCorrupt() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", err
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.bak.%d", s.path, n)
		if _, err := os.Stat(candidate); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return "", err
		}
		if err := os.WriteFile(candidate, data, 0o644); err != nil {
			return "", err
		}
		return candidate, nil
	}
}

// bayDoc 文档中格田/排水条目的设备绑定
type bayDoc struct {
	Device        string `json:"device"`
	SpurDevice    string `json:"spur_device,omitempty"`
	ChannelDevice string `json:"channel_device,omitempty"`
}

// parseDocument 解析文档并归一化所有设备绑定
func parseDocument(data []byte) (*Registry, error) {
	var raw map[string][]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	reg := NewRegistry()
	for slug, entries := range raw {
		p := &models.Paddock{Slug: slug}
		for _, entry := range entries {
			for key, val := range entry {
				switch key {
				case "display_name":
					if err := json.Unmarshal(val, &p.DisplayName); err != nil {
						return nil, fmt.Errorf("paddock %s: display_name: %w", slug, err)
					}
				case "enabled":
					if err := json.Unmarshal(val, &p.Enabled); err != nil {
						return nil, fmt.Errorf("paddock %s: enabled: %w", slug, err)
					}
				case "automation_state_individual":
					if err := json.Unmarshal(val, &p.Individual); err != nil {
						return nil, fmt.Errorf("paddock %s: automation_state_individual: %w", slug, err)
					}
				default:
					var b bayDoc
					if err := json.Unmarshal(val, &b); err != nil {
						return nil, fmt.Errorf("paddock %s: entry %q: %w", slug, key, err)
					}
					if strings.HasSuffix(key, drainSuffix) {
						p.Drain = models.DrainEntry{
							Name:   key,
							Device: models.NormalizeDevice(b.Device),
						}
					} else {
						num, ok := models.BayNumberFromName(key)
						if !ok {
							num = len(p.Bays) + 1
						}
						p.Bays = append(p.Bays, models.BayEntry{
							Name:          key,
							Number:        num,
							Device:        models.NormalizeDevice(b.Device),
							SpurDevice:    models.NormalizeDevice(b.SpurDevice),
							ChannelDevice: models.NormalizeDevice(b.ChannelDevice),
						})
					}
				}
			}
		}
		reg.Upsert(p)
	}
	return reg, nil
}

// serializeDocument 写出规范形态：元数据、格田（链序）、排水，设备绑定已归一化
func serializeDocument(reg *Registry) ([]byte, error) {
	doc := make(map[string][]map[string]interface{}, reg.Len())
	for _, slug := range reg.Slugs() {
		p, _ := reg.Paddock(slug)
		entries := []map[string]interface{}{
			{"display_name": p.DisplayName},
			{"enabled": p.Enabled},
			{"automation_state_individual": p.Individual},
		}
		for _, b := range p.Bays {
			entries = append(entries, map[string]interface{}{
				b.Name: bayDoc{
					Device:        models.NormalizeDevice(b.Device),
					SpurDevice:    models.NormalizeDevice(b.SpurDevice),
					ChannelDevice: models.NormalizeDevice(b.ChannelDevice),
				},
			})
		}
		entries = append(entries, map[string]interface{}{
			p.Drain.Name: bayDoc{Device: models.NormalizeDevice(p.Drain.Device)},
		})
		doc[slug] = entries
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Slugify 从显示名确定性派生slug：小写，非字母数字折叠为下划线
func Slugify(name string) string {
	var b strings.Builder
	lastUnderscore := true // 抑制首位下划线
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// DrainName 末端排水条目名：跟随末位格田名
func DrainName(lastBayName string) string {
	return lastBayName + drainSuffix
}
