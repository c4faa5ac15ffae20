package optimize

import (
	"math"
	"math/rand"
)

// sbxCrossover 以模拟二进制交叉产生两个子代。
// eta 越大子代越贴近父代；输出逐基因 Repair 后返回。
func sbxCrossover(rng *rand.Rand, a, b []float64, genes []Gene, prob, eta float64) ([]float64, []float64) {
	c1 := make([]float64, len(a))
	c2 := make([]float64, len(a))
	copy(c1, a)
	copy(c2, b)
	if rng.Float64() > prob {
		return c1, c2
	}
	for i := range genes {
		if rng.Float64() > 0.5 {
			continue
		}
		x1, x2 := a[i], b[i]
		if math.Abs(x1-x2) < 1e-14 {
			continue
		}
		u := rng.Float64()
		var beta float64
		if u <= 0.5 {
			beta = math.Pow(2*u, 1/(eta+1))
		} else {
			beta = math.Pow(1/(2*(1-u)), 1/(eta+1))
		}
		c1[i] = genes[i].Repair(0.5 * ((1+beta)*x1 + (1-beta)*x2))
		c2[i] = genes[i].Repair(0.5 * ((1-beta)*x1 + (1+beta)*x2))
	}
	return c1, c2
}

// polynomialMutation 按多项式分布扰动基因，逐基因概率 1/n。
func polynomialMutation(rng *rand.Rand, x []float64, genes []Gene, eta float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	pm := 1.0 / float64(len(genes))
	for i, g := range genes {
		if rng.Float64() > pm {
			continue
		}
		low, high := g.Bounds()
		span := high - low
		if span <= 0 {
			continue
		}
		u := rng.Float64()
		var delta float64
		if u < 0.5 {
			delta = math.Pow(2*u, 1/(eta+1)) - 1
		} else {
			delta = 1 - math.Pow(2*(1-u), 1/(eta+1))
		}
		out[i] = g.Repair(out[i] + delta*span)
	}
	return out
}
