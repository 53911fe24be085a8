package stats

import "sort"

// ranking 维护全量累计与一个容量受限的有序榜。
// 贡献值只增不减，所以榜外元素一旦超过榜尾即可换入，榜内元素只会上移。
type ranking struct {
	limit  int
	totals map[int64]*ContributorStat
	top    []*ContributorStat // Value 降序，同值按 First 升序
}

func newRanking(limit int) *ranking {
	return &ranking{
		limit:  limit,
		totals: make(map[int64]*ContributorStat),
	}
}

// add 累加贡献，seq 为该观众首次出现时的到达序号
func (r *ranking) add(uid int64, uname string, value float64, seq int64) {
	stat, ok := r.totals[uid]
	if !ok {
		stat = &ContributorStat{UID: uid, Uname: uname, First: seq}
		r.totals[uid] = stat
	}
	if uname != "" {
		stat.Uname = uname
	}
	stat.Value += value
	r.place(stat)
}

func (r *ranking) place(stat *ContributorStat) {
	pos := -1
	for i, s := range r.top {
		if s.UID == stat.UID {
			pos = i
			break
		}
	}
	if pos < 0 {
		if len(r.top) < r.limit {
			r.top = append(r.top, stat)
			pos = len(r.top) - 1
		} else if r.less(stat, r.top[len(r.top)-1]) {
			r.top[len(r.top)-1] = stat
			pos = len(r.top) - 1
		} else {
			return
		}
	}
	// 线性上移到正确位置
	for pos > 0 && r.less(r.top[pos], r.top[pos-1]) {
		r.top[pos], r.top[pos-1] = r.top[pos-1], r.top[pos]
		pos--
	}
}

// less a 是否应排在 b 之前
func (r *ranking) less(a, b *ContributorStat) bool {
	if a.Value != b.Value {
		return a.Value > b.Value
	}
	return a.First < b.First
}

func (r *ranking) size() int {
	return len(r.totals)
}

// snapshot 返回榜单副本
func (r *ranking) snapshot() []ContributorStat {
	out := make([]ContributorStat, len(r.top))
	for i, s := range r.top {
		out[i] = *s
	}
	return out
}

// dump 导出全量累计，用于落盘
func (r *ranking) dump() []ContributorStat {
	out := make([]ContributorStat, 0, len(r.totals))
	for _, s := range r.totals {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.less(&out[i], &out[j])
	})
	return out
}

// restoreRanking 从全量累计重建
func restoreRanking(limit int, stats []ContributorStat) *ranking {
	r := newRanking(limit)
	for i := range stats {
		s := stats[i]
		stat := &ContributorStat{UID: s.UID, Uname: s.Uname, Value: s.Value, First: s.First}
		r.totals[s.UID] = stat
	}
	all := make([]*ContributorStat, 0, len(r.totals))
	for _, s := range r.totals {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		return r.less(all[i], all[j])
	})
	if len(all) > limit {
		all = all[:limit]
	}
	r.top = all
	return r
}
