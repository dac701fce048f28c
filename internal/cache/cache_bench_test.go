package cache

import (
	"context"
	"testing"
	"time"

	"github.com/kjstillabower/hazard-risk-service/internal/models"
)

// BenchmarkInMemoryCache_Get_Hit benchmarks cache Get operation on cache hit.
func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	c := NewInMemoryCache(1024, time.Minute)
	ctx := context.Background()
	_ = c.Set(ctx, "k", 0.5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, "k")
	}
}

// BenchmarkScoreKey benchmarks cache key derivation, which runs on every model prediction.
func BenchmarkScoreKey(b *testing.B) {
	f := models.Features{RainMm: 50, WindKph: 20, TempC: 30, HumidityPct: 60, SoilSatPct: 70}
	for i := 0; i < b.N; i++ {
		_ = ScoreKey("0.35,0.25,0.15,0.1,0.15,0", f)
	}
}
