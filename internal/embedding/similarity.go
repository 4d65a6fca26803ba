package embedding

import (
	"fmt"
	"math"

	"resume-match-go/internal/errs"
)

// CosineSimilarity 计算余弦相似度。维度不一致返回 InvalidInputError；
// 任一向量范数为 0 时相似度为 0。
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, errs.NewInvalidInputError("cosine_similarity",
			fmt.Sprintf("向量维度不一致: %d != %d", len(a), len(b)))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) {
		return 0, nil
	}
	return math.Max(-1, math.Min(1, sim)), nil
}
