package topology

import (
	"sort"

	"github.com/PKmac78/paddisense-release/internal/models"
)

// Registry 载入后的拓扑视图：slug → 田块
type Registry struct {
	paddocks map[string]*models.Paddock
}

// NewRegistry 创建空Registry
func NewRegistry() *Registry {
	return &Registry{paddocks: make(map[string]*models.Paddock)}
}

// Paddock 按slug查找田块
func (r *Registry) Paddock(slug string) (*models.Paddock, bool) {
	p, ok := r.paddocks[slug]
	return p, ok
}

// Upsert 插入或替换田块
func (r *Registry) Upsert(p *models.Paddock) {
	r.paddocks[p.Slug] = p
}

// Slugs 返回排序后的slug列表
func (r *Registry) Slugs() []string {
	out := make([]string, 0, len(r.paddocks))
	for slug := range r.paddocks {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Len 田块数量
func (r *Registry) Len() int {
	return len(r.paddocks)
}

// DeviceFor 解析控制点键到物理设备绑定。
// 田块或格田不存在时返回 false；绑定可能为 "unset"，由调用方判断。
func (r *Registry) DeviceFor(key models.ControlPointKey) (string, bool) {
	p, ok := r.paddocks[key.Paddock]
	if !ok {
		return "", false
	}
	switch key.Role {
	case models.RoleDrain:
		return p.Drain.Device, true
	case models.RoleSupply:
		if b, ok := p.BayByNumber(key.Bay); ok {
			return b.Device, true
		}
	case models.RoleSpur:
		if b, ok := p.BayByNumber(key.Bay); ok {
			return b.SpurDevice, true
		}
	case models.RoleChannel:
		if b, ok := p.BayByNumber(key.Bay); ok {
			return b.ChannelDevice, true
		}
	}
	return "", false
}

// DepthDeviceFor 格田水深的来源设备：链上下一格田的站点设备，
// 末位格田取末端排水设备（站点测的是闸前水位，即上一格田的水深）。
func (r *Registry) DepthDeviceFor(slug string, bay int) (string, bool) {
	p, ok := r.paddocks[slug]
	if !ok {
		return "", false
	}
	for i := range p.Bays {
		if p.Bays[i].Number == bay {
			if i == len(p.Bays)-1 {
				return p.Drain.Device, true
			}
			return p.Bays[i+1].Device, true
		}
	}
	return "", false
}

// ChannelDepthDeviceFor 供水渠水位的来源设备：首格田的站点设备
// （首闸前的水即渠水）。
func (r *Registry) ChannelDepthDeviceFor(slug string) (string, bool) {
	p, ok := r.paddocks[slug]
	if !ok || len(p.Bays) == 0 {
		return "", false
	}
	return p.Bays[0].Device, true
}
