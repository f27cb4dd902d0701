package colormap

import (
	"image/color"
	"testing"
)

func TestGrayIsIdentity(t *testing.T) {
	for i := 0; i < 256; i++ {
		c := Gray.At(uint8(i))
		if c.R != uint8(i) || c.G != uint8(i) || c.B != uint8(i) || c.A != 255 {
			t.Fatalf("Gray(%d) = %v", i, c)
		}
	}
}

func TestHotEndpoints(t *testing.T) {
	if c := Hot.At(0); c.R != 11 || c.G != 0 || c.B != 0 {
		t.Errorf("Expected dark red at 0, got %v", c)
	}
	if c := Hot.At(255); c != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("Expected white at 255, got %v", c)
	}
	if c := Hot.At(128); c.R != 255 || c.B != 0 {
		t.Errorf("Expected saturated red channel and no blue at 128, got %v", c)
	}

	// Each channel is non-decreasing
	for i := 1; i < 256; i++ {
		a, b := Hot.At(uint8(i-1)), Hot.At(uint8(i))
		if b.R < a.R || b.G < a.G || b.B < a.B {
			t.Fatalf("Hot is not monotonic at %d: %v -> %v", i, a, b)
		}
	}
}

func TestByName(t *testing.T) {
	tests := []struct {
		name    string
		want    *Colormap
		wantErr bool
	}{
		{"gray", &Gray, false},
		{"", &Gray, false},
		{"HOT", &Hot, false},
		{"viridis", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ByName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ByName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ByName(%q) returned the wrong colormap", tt.name)
			}
		})
	}
}

func TestLabelColorsDeterministic(t *testing.T) {
	a := LabelColors(6, 66)
	b := LabelColors(6, 66)
	if len(a) != 6 {
		t.Fatalf("Expected 6 colors, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("Color %d differs between calls: %v vs %v", i, a[i], b[i])
		}
	}

	c := LabelColors(6, 67)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
		}
	}
	if same {
		t.Error("Expected a different seed to change the palette")
	}

	if LabelColors(0, 1) != nil {
		t.Error("Expected nil palette for n = 0")
	}
}

func TestLabelColorsFirstHueIsRed(t *testing.T) {
	c := LabelColors(3, 1)[0]
	if c.R <= c.G || c.R <= c.B {
		t.Errorf("Expected hue 0 to be red-dominant, got %v", c)
	}
}

func TestHLSToRGB(t *testing.T) {
	r, g, b := hlsToRGB(1.0/3, 0.5, 1)
	if unit(r) != 0 || unit(g) != 255 || unit(b) != 0 {
		t.Errorf("Expected pure green, got %f %f %f", r, g, b)
	}
	r, g, b = hlsToRGB(0, 0.25, 0)
	if r != 0.25 || g != 0.25 || b != 0.25 {
		t.Errorf("Expected grey for zero saturation, got %f %f %f", r, g, b)
	}
}
