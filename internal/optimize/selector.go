package optimize

import (
	"fmt"

	"aegis/internal/backtest"
)

const defaultSelectorEpsilon = 0.05

// Selector 从帕累托前沿里挑一个可部署的折中解：
// 得分 = 收益率 / (最大回撤 + eps)，eps 防止零回撤除零并压制
// 低回撤低收益的退化解。平分时取前沿里最早出现的个体。
type Selector struct {
	Epsilon float64
}

func (s Selector) Pick(front []Individual) (int, error) {
	if len(front) == 0 {
		return 0, fmt.Errorf("帕累托前沿为空")
	}
	eps := s.Epsilon
	if eps <= 0 {
		eps = defaultSelectorEpsilon
	}
	best := 0
	bestScore := score(front[0].Result, eps)
	for i := 1; i < len(front); i++ {
		if sc := score(front[i].Result, eps); sc > bestScore {
			best = i
			bestScore = sc
		}
	}
	return best, nil
}

func score(r backtest.Result, eps float64) float64 {
	return r.ProfitRatio / (r.MaxDrawdown + eps)
}
