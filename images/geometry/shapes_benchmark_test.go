package geometry

import (
	"math/rand"
	"testing"
)

// Benchmarks covering the IoU paths hit during suppression.

func benchmarkIoU(b *testing.B, r, o Box) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = CalculateIoU(r, o)
	}
}

// BenchmarkIoU_NonOverlapping returns early on an empty intersection.
func BenchmarkIoU_NonOverlapping(b *testing.B) {
	benchmarkIoU(b, Box{0, 0, 0.1, 0.1}, Box{0.5, 0.5, 0.6, 0.6})
}

// BenchmarkIoU_FullOverlap tests identical boxes (IoU = 1.0).
func BenchmarkIoU_FullOverlap(b *testing.B) {
	benchmarkIoU(b, Box{0.2, 0.2, 0.4, 0.4}, Box{0.2, 0.2, 0.4, 0.4})
}

// BenchmarkIoU_PartialOverlap is the typical duplicate-detection case.
func BenchmarkIoU_PartialOverlap(b *testing.B) {
	benchmarkIoU(b, Box{0, 0, 0.4, 0.4}, Box{0.2, 0.2, 0.6, 0.6})
}

// BenchmarkIoU_Inverted pays for canonicalizing both boxes.
func BenchmarkIoU_Inverted(b *testing.B) {
	benchmarkIoU(b, Box{0.4, 0.4, 0, 0}, Box{0.6, 0.6, 0.2, 0.2})
}

// BenchmarkIoU_Degenerate tests a zero-area box.
func BenchmarkIoU_Degenerate(b *testing.B) {
	benchmarkIoU(b, Box{0.3, 0.3, 0.3, 0.5}, Box{0.2, 0.2, 0.6, 0.6})
}

// BenchmarkIoU_RandomPairs simulates a mixed workload.
func BenchmarkIoU_RandomPairs(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	random := func() Box {
		y, x := r.Float32()*0.8, r.Float32()*0.8
		return Box{y, x, y + 0.05 + r.Float32()*0.15, x + 0.05 + r.Float32()*0.15}
	}

	pairs := make([][2]Box, 1024)
	for i := range pairs {
		pairs[i] = [2]Box{random(), random()}
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := pairs[i%len(pairs)]
		_ = CalculateIoU(p[0], p[1])
	}
}

// BenchmarkBoxAt reads boxes out of a flat buffer.
func BenchmarkBoxAt(b *testing.B) {
	boxes := make([]float32, 100*BoxStride)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = BoxAt(boxes, i%100)
	}
}
