package metrics

import (
	"math"
	"testing"
)

func ramp(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestEntropy(t *testing.T) {
	// Four equally populated bins carry two bits
	data := []float64{0, 0, 1, 1, 2, 2, 3, 3}
	if h := Entropy(data, 4); math.Abs(h-2) > 1e-12 {
		t.Errorf("Expected entropy 2, got %f", h)
	}
	if h := Entropy([]float64{5, 5, 5}, 8); h != 0 {
		t.Errorf("Expected zero entropy for a constant array, got %f", h)
	}
	if h := Entropy(nil, 8); h != 0 {
		t.Errorf("Expected zero entropy for empty data, got %f", h)
	}
}

func TestAlignDependentArrays(t *testing.T) {
	a := ramp(1024, func(i int) float64 { return float64(i % 16) })

	// A linear map keeps every histogram bin distinct
	linear := ramp(1024, func(i int) float64 { return 2*a[i] + 1 })
	al, err := Align(a, linear, 16)
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	if math.Abs(al.MutualInformation-4) > 1e-9 {
		t.Errorf("Expected MI of 4 bits, got %f", al.MutualInformation)
	}
	if math.Abs(al.NormalizedMI-2) > 1e-9 {
		t.Errorf("Expected NMI 2, got %f", al.NormalizedMI)
	}
	if math.Abs(al.Correlation-1) > 1e-9 {
		t.Errorf("Expected correlation 1, got %f", al.Correlation)
	}

	// A non-linear map merges bins of b; all of b's information still
	// comes from a
	curved := ramp(1024, func(i int) float64 { return math.Exp(a[i] / 4) })
	al, err = Align(a, curved, 16)
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	if math.Abs(al.MutualInformation-al.EntropyB) > 1e-9 {
		t.Errorf("Expected MI to equal H(B), got %f vs %f", al.MutualInformation, al.EntropyB)
	}
	if al.EntropyB >= al.EntropyA {
		t.Errorf("Expected merged bins to lower H(B) below H(A), got %f and %f", al.EntropyB, al.EntropyA)
	}
}

func TestAlignIndependentArrays(t *testing.T) {
	a := ramp(1024, func(i int) float64 { return float64(i % 8) })
	b := ramp(1024, func(i int) float64 { return float64((i / 8) % 8) })

	al, err := Align(a, b, 8)
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	if al.MutualInformation > 1e-9 {
		t.Errorf("Expected zero MI for independent arrays, got %f", al.MutualInformation)
	}
	if math.Abs(al.Correlation) > 1e-9 {
		t.Errorf("Expected zero correlation, got %f", al.Correlation)
	}
}

func TestAlignSkipsNonFinite(t *testing.T) {
	a := []float64{1, 2, math.NaN(), 4}
	b := []float64{1, math.Inf(1), 3, 4}
	if _, err := Align(a, b, 4); err != nil {
		t.Errorf("Align failed: %v", err)
	}

	if _, err := Align([]float64{1, 2}, []float64{1}, 4); err == nil {
		t.Error("Expected error for different lengths")
	}
	if _, err := Align([]float64{math.NaN()}, []float64{1}, 4); err == nil {
		t.Error("Expected error when no pair is finite")
	}
}

func TestCompare(t *testing.T) {
	a := ramp(100, func(i int) float64 { return float64(i) })

	same, err := Compare(a, a)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if same.RMSE != 0 || math.Abs(same.SSIM-1) > 1e-12 || same.EntropyDiff != 0 {
		t.Errorf("Expected perfect similarity, got %s", same)
	}

	shifted := ramp(100, func(i int) float64 { return float64(i) + 3 })
	s, err := Compare(a, shifted)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if math.Abs(s.RMSE-3) > 1e-9 {
		t.Errorf("Expected RMSE 3, got %f", s.RMSE)
	}
	if s.SSIM >= 1 || s.SSIM <= 0 {
		t.Errorf("Expected SSIM in (0, 1) for a shifted copy, got %f", s.SSIM)
	}

	inverted := ramp(100, func(i int) float64 { return float64(99 - i) })
	s, _ = Compare(a, inverted)
	if s.SSIM >= 0 {
		t.Errorf("Expected negative SSIM for an inverted copy, got %f", s.SSIM)
	}
}
