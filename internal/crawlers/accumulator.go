package crawlers

// Accumulator 保持插入顺序、去重并受上限约束的URL集合
type Accumulator struct {
	limit int
	seen  map[string]struct{}
	urls  []string
	byURL map[string]Candidate
}

// NewAccumulator 创建上限为 limit 的集合; limit <= 0 表示不限
func NewAccumulator(limit int) *Accumulator {
	return &Accumulator{
		limit: limit,
		seen:  make(map[string]struct{}),
		byURL: make(map[string]Candidate),
	}
}

// Add 加入候选; 已存在或已满时返回 false
func (a *Accumulator) Add(c Candidate) bool {
	if a.Full() {
		return false
	}
	if _, ok := a.seen[c.URL]; ok {
		return false
	}
	a.seen[c.URL] = struct{}{}
	a.urls = append(a.urls, c.URL)
	a.byURL[c.URL] = c
	return true
}

// Full 是否已达上限
func (a *Accumulator) Full() bool {
	return a.limit > 0 && len(a.urls) >= a.limit
}

// Len 当前数量
func (a *Accumulator) Len() int {
	return len(a.urls)
}

// URLs 按发现顺序返回副本
func (a *Accumulator) URLs() []string {
	return append([]string(nil), a.urls...)
}

// Candidates 按发现顺序返回候选副本
func (a *Accumulator) Candidates() []Candidate {
	result := make([]Candidate, 0, len(a.urls))
	for _, u := range a.urls {
		result = append(result, a.byURL[u])
	}
	return result
}
