package controller

import (
	"sync"
	"sync/atomic"

	"github.com/PKmac78/paddisense-release/internal/models"
)

// FlushFlag 冲灌标志的只读视图。上游邻格田只拿到这个接口，
// 跨格田改写在类型上不可表达。
type FlushFlag interface {
	Active() bool
}

// FlagBoard 进程内冲灌标志板。每格田在装配阶段登记一个单元，
// 自己持可写句柄，上游邻格田持只读视图并订阅变化。
type FlagBoard struct {
	mu       sync.RWMutex
	cells    map[models.BayRef]*flagCell
	watchers map[models.BayRef][]func(active bool)
}

type flagCell struct {
	v atomic.Bool
}

func (c *flagCell) Active() bool {
	return c.v.Load()
}

// noFlag 恒假视图：末位格田（或未登记的引用）的下游标志
type noFlag struct{}

func (noFlag) Active() bool { return false }

// NoDownstream 没有下游格田时挂接的标志视图
var NoDownstream FlushFlag = noFlag{}

// NewFlagBoard 创建空标志板
func NewFlagBoard() *FlagBoard {
	return &FlagBoard{
		cells:    make(map[models.BayRef]*flagCell),
		watchers: make(map[models.BayRef][]func(bool)),
	}
}

// Register 为格田登记标志单元并返回可写句柄。重复登记复用同一单元。
func (b *FlagBoard) Register(ref models.BayRef) *FlagHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	cell, ok := b.cells[ref]
	if !ok {
		cell = &flagCell{}
		b.cells[ref] = cell
	}
	return &FlagHandle{ref: ref, board: b, cell: cell}
}

// Flag 获取某格田标志的只读视图。未登记时返回恒假视图。
func (b *FlagBoard) Flag(ref models.BayRef) FlushFlag {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if cell, ok := b.cells[ref]; ok {
		return cell
	}
	return NoDownstream
}

// Watch 订阅某格田标志的变化。回调在写入方的goroutine里执行，
// 订阅方须自行转入自己的事件循环。
func (b *FlagBoard) Watch(ref models.BayRef, fn func(active bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers[ref] = append(b.watchers[ref], fn)
}

func (b *FlagBoard) notify(ref models.BayRef, active bool) {
	b.mu.RLock()
	fns := b.watchers[ref]
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(active)
	}
}

// FlagHandle 格田自己的可写句柄
type FlagHandle struct {
	ref   models.BayRef
	board *FlagBoard
	cell  *flagCell
}

// Set 写入标志；值不变时不惊动订阅方
func (h *FlagHandle) Set(active bool) {
	if h.cell.v.Swap(active) == active {
		return
	}
	h.board.notify(h.ref, active)
}

// Active 当前标志值
func (h *FlagHandle) Active() bool {
	return h.cell.Active()
}
