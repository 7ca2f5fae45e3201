package cache

// Stats 是 MemoryWriter 状态与计数器的快照，HitRatio 为百分比（0-100）。
type Stats struct {
	Buffered  int     `json:"buffered"`
	Used      int     `json:"used_bytes"`
	Capacity  int     `json:"capacity_bytes"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRatio  float64 `json:"hit_ratio"`
	Evictions uint64  `json:"evictions"`
	Flushed   uint64  `json:"flushed"`
}

type counters struct {
	hits, misses       uint64
	evictions, flushed uint64
}

// Stats 返回当前计数；与其他方法一样不得与写入并发调用。
func (m *MemoryWriter) Stats() Stats {
	total := m.stats.hits + m.stats.misses
	ratio := 0.0
	if total > 0 {
		ratio = float64(m.stats.hits) / float64(total) * 100.0
	}

	return Stats{
		Buffered:  m.Len(),
		Used:      m.Used(),
		Capacity:  m.capacity,
		Hits:      m.stats.hits,
		Misses:    m.stats.misses,
		HitRatio:  ratio,
		Evictions: m.stats.evictions,
		Flushed:   m.stats.flushed,
	}
}

// ResetStats 清零命中、未命中、淘汰与刷盘计数。
func (m *MemoryWriter) ResetStats() {
	m.stats = counters{}
}
