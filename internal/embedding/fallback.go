package embedding

import (
	"hash/fnv"
	"math"
)

// fallbackSeedModulus 哈希取模后作为正弦相位的起点
const fallbackSeedModulus = 100000

// FallbackVector 由文本哈希确定性地生成单位向量，用于向量服务不可用时。
// 相同文本总是得到逐位相同的向量；维度与主服务一致，保证可比较。
func FallbackVector(text string, dims int) []float64 {
	if dims <= 0 {
		return nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := float64(h.Sum64() % fallbackSeedModulus)

	vec := make([]float64, dims)
	var norm float64
	for i := range vec {
		v := math.Sin(seed + float64(i))
		vec[i] = v
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
