package cache

import "math"

// CosineSimilarity は2ベクトルのコサイン類似度を返す。
// 通常の近傍検索はデータベース側で計算されるが、インメモリ実装や
// 検証用にパッケージとして公開している
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
