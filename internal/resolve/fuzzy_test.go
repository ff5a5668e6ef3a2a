package resolve

import "testing"

func TestFuzzyRatio(t *testing.T) {
	cases := []struct {
		a, b string
		min  int
		max  int
	}{
		{"Entropy", "entropy", 100, 100},
		{"Gradient Descent", "Descent Gradient", 100, 100},
		{"Neural Network", "Neural Networks", 90, 99},
		{"Entropy", "Enthalpy", 50, 80},
		{"Entropy", "Photosynthesis", 0, 40},
		{"", "", 100, 100},
		{"Entropy", "", 0, 0},
	}
	for _, tc := range cases {
		got := FuzzyRatio(tc.a, tc.b)
		if got < tc.min || got > tc.max {
			t.Errorf("FuzzyRatio(%q, %q) = %d, want in [%d, %d]", tc.a, tc.b, got, tc.min, tc.max)
		}
	}
}

func TestFuzzyRatioSymmetric(t *testing.T) {
	if FuzzyRatio("alpha beta", "beta gamma") != FuzzyRatio("beta gamma", "alpha beta") {
		t.Fatal("ratio must be symmetric")
	}
}
