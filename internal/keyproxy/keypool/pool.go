package keypool

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoKeys 池子是空的，启动阶段就该拦住
	ErrNoKeys = errors.New("keypool: no api keys configured")
	// ErrAllExhausted 当前所有 key 都在冷却中
	ErrAllExhausted = errors.New("keypool: all api keys exhausted")
)

type entry struct {
	key            string
	exhaustedUntil time.Time // 零值表示立刻可用
}

// Pool 管理一组可轮换的上游 API key。
// 进程启动时构造一次，所有请求协程共享；key 本身不增不删，
// 只有冷却时间戳会被并发修改，全部读写都走同一把锁。
type Pool struct {
	mu       sync.Mutex
	entries  []entry
	cursor   int // 上次选中位置的下一位，轮询公平性靠它
	cooldown time.Duration

	now func() time.Time // 测试注入用
}

// New 从 key 列表构造池子。cooldown 是单个 key 被判定耗尽后的冷却时长。
func New(keys []string, cooldown time.Duration) (*Pool, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	entries := make([]entry, len(keys))
	for i, k := range keys {
		entries[i] = entry{key: k}
	}
	return &Pool{
		entries:  entries,
		cooldown: cooldown,
		now:      time.Now,
	}, nil
}

// Next 从 cursor 开始扫一圈，返回第一个不在冷却的 key。
// 选中后 cursor 推进到选中位置的下一格，让并发请求摊开到整个池子。
// 扫描和推进必须在同一个临界区里，否则高并发下 cursor 的自增会被覆盖掉。
func (p *Pool) Next() (int, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := len(p.entries)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		e := &p.entries[idx]
		if e.exhaustedUntil.IsZero() || e.exhaustedUntil.Before(now) {
			p.cursor = (idx + 1) % n
			return idx, e.key, nil
		}
	}
	return 0, "", ErrAllExhausted
}

// MarkExhausted 把指定 key 打入冷却：now + cooldown。
// 已经在冷却的 key 只会被延长，不会被并发写缩短。
func (p *Pool) MarkExhausted(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx < 0 || idx >= len(p.entries) {
		return
	}
	until := p.now().Add(p.cooldown)
	if until.After(p.entries[idx].exhaustedUntil) {
		p.entries[idx].exhaustedUntil = until
	}
}

// Available 当前可用（未冷却）的 key 数量，喂给监控
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	count := 0
	for i := range p.entries {
		if p.entries[i].exhaustedUntil.IsZero() || p.entries[i].exhaustedUntil.Before(now) {
			count++
		}
	}
	return count
}

// Size 池子大小，同时也是单次请求的重试上限
func (p *Pool) Size() int {
	return len(p.entries)
}
