package optimize

import (
	"math"
	"sort"
)

// Objectives 是最小化目标向量: f1 = -收益率, f2 = 最大回撤。
type Objectives [2]float64

// dominates 报告 a 是否支配 b：各维不劣且至少一维严格更优。
func (a Objectives) dominates(b Objectives) bool {
	better := false
	for i := range a {
		if a[i] > b[i] {
			return false
		}
		if a[i] < b[i] {
			better = true
		}
	}
	return better
}

// fastNonDominatedSort 返回按支配层级分组的下标，第 0 层即帕累托前沿。
// 每层内部保持输入顺序，保证整条流水线的确定性。
func fastNonDominatedSort(objs []Objectives) [][]int {
	n := len(objs)
	dominated := make([][]int, n) // i 支配的个体
	counts := make([]int, n)      // 支配 i 的个体数

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case objs[i].dominates(objs[j]):
				dominated[i] = append(dominated[i], j)
				counts[j]++
			case objs[j].dominates(objs[i]):
				dominated[j] = append(dominated[j], i)
				counts[i]++
			}
		}
	}

	var fronts [][]int
	var current []int
	for i := 0; i < n; i++ {
		if counts[i] == 0 {
			current = append(current, i)
		}
	}
	for len(current) > 0 {
		fronts = append(fronts, current)
		var next []int
		for _, i := range current {
			for _, j := range dominated[i] {
				counts[j]--
				if counts[j] == 0 {
					next = append(next, j)
				}
			}
		}
		sort.Ints(next)
		current = next
	}
	return fronts
}

// crowdingDistance 计算一层内各个体的拥挤距离，边界个体取 +Inf。
func crowdingDistance(front []int, objs []Objectives) []float64 {
	n := len(front)
	dist := make([]float64, n)
	if n <= 2 {
		for i := range dist {
			dist[i] = math.Inf(1)
		}
		return dist
	}
	order := make([]int, n) // front 内的局部下标
	for m := 0; m < len(objs[0]); m++ {
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return objs[front[order[a]]][m] < objs[front[order[b]]][m]
		})
		lo := objs[front[order[0]]][m]
		hi := objs[front[order[n-1]]][m]
		dist[order[0]] = math.Inf(1)
		dist[order[n-1]] = math.Inf(1)
		span := hi - lo
		if span == 0 {
			continue
		}
		for k := 1; k < n-1; k++ {
			prev := objs[front[order[k-1]]][m]
			next := objs[front[order[k+1]]][m]
			dist[order[k]] += (next - prev) / span
		}
	}
	return dist
}
