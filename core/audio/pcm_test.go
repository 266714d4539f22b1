package audio

import "testing"

func TestValidateRange(t *testing.T) {
	valid := [][2]float64{{0, 1}, {0, 0.5}, {0.25, 0.75}, {0.99, 1}}
	for _, c := range valid {
		if err := ValidateRange(c[0], c[1]); err != nil {
			t.Fatalf("ValidateRange(%g, %g): %v", c[0], c[1], err)
		}
	}

	invalid := [][2]float64{
		{-0.1, 0.5}, {1, 1}, {0.5, 0.5}, {0.6, 0.4}, {0, 1.1}, {0.5, 0.2},
	}
	for _, c := range invalid {
		if err := ValidateRange(c[0], c[1]); err == nil {
			t.Fatalf("ValidateRange(%g, %g) accepted an invalid range", c[0], c[1])
		}
	}
}

func TestSliceRange(t *testing.T) {
	signal := make([]float64, 1000)
	for i := range signal {
		signal[i] = float64(i)
	}

	half := SliceRange(signal, 0, 0.5)
	if len(half) != 500 || half[0] != 0 {
		t.Fatalf("SliceRange(0, 0.5) = %d samples starting at %g", len(half), half[0])
	}

	mid := SliceRange(signal, 0.25, 0.75)
	if len(mid) != 500 || mid[0] != 250 {
		t.Fatalf("SliceRange(0.25, 0.75) = %d samples starting at %g", len(mid), mid[0])
	}

	full := SliceRange(signal, 0, 1)
	if len(full) != len(signal) {
		t.Fatalf("SliceRange(0, 1) = %d samples, want all", len(full))
	}
}
