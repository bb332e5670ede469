package analysis

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testGazetteer = `
[[country]]
name = "Kenya"
keywords = ["kenya", "kenyan"]
cities = ["nairobi", "mombasa"]

  [[country.generic]]
  keyword = "county government"
  weight = 2.5

  [[country.generic]]
  keyword = "harambee"
  weight = 9.0

[[country]]
name = "Uganda"
keywords = ["uganda", "ugandan"]
cities = ["kampala"]
`

func writeGazetteer(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locations.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write gazetteer: %v", err)
	}
	return path
}

func TestLoadGazetteer(t *testing.T) {
	g, err := LoadGazetteer(writeGazetteer(t, testGazetteer))
	if err != nil {
		t.Fatalf("LoadGazetteer: %v", err)
	}
	if len(g.countries) != 2 {
		t.Fatalf("loaded %d countries, want 2", len(g.countries))
	}
	kenya := g.countries[0]
	if kenya.name != "Kenya" || len(kenya.names) != 2 || len(kenya.cities) != 2 {
		t.Errorf("kenya = %+v, want 2 names and 2 cities", kenya)
	}
	// Out-of-range generic weights are clamped.
	if len(kenya.generics) != 2 || kenya.generics[1].weight != genericWeightMax {
		t.Errorf("generics = %+v, want harambee clamped to %g", kenya.generics, genericWeightMax)
	}
}

func TestLoadGazetteerEmptyPath(t *testing.T) {
	g, err := LoadGazetteer("")
	if err != nil {
		t.Fatalf("LoadGazetteer(\"\"): %v", err)
	}
	if label, score := g.BestMatch("protest in nairobi"); label != "" || score != 0 {
		t.Errorf("empty gazetteer matched %q (%g)", label, score)
	}
}

func TestLoadGazetteerRejectsNamelessEntry(t *testing.T) {
	_, err := LoadGazetteer(writeGazetteer(t, "[[country]]\nkeywords = [\"x\"]\n"))
	if err == nil || !strings.Contains(err.Error(), "no name") {
		t.Fatalf("err = %v, want a no-name error", err)
	}
}

func TestGazetteerBestMatch(t *testing.T) {
	g, err := LoadGazetteer(writeGazetteer(t, testGazetteer))
	if err != nil {
		t.Fatalf("LoadGazetteer: %v", err)
	}
	tests := []struct {
		name      string
		text      string
		wantLabel string
		wantScore float64
	}{
		{
			name:      "country name plus city",
			text:      "kenyan commuters stranded in nairobi after the matatu strike",
			wantLabel: "Kenya",
			wantScore: countryNameWeight + cityWeight,
		},
		{
			name:      "city only",
			text:      "floods cut the kampala ring road",
			wantLabel: "Uganda",
			wantScore: cityWeight,
		},
		{
			name:      "generic keyword",
			text:      "the county government suspended new permits",
			wantLabel: "Kenya",
			wantScore: 2.5,
		},
		{
			name:      "higher total wins",
			text:      "trade talks between uganda and kenyan officials in mombasa",
			wantLabel: "Kenya",
			wantScore: countryNameWeight + cityWeight,
		},
		{
			name:      "no match",
			text:      "global markets closed mixed",
			wantLabel: "",
			wantScore: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, score := g.BestMatch(tt.text)
			if label != tt.wantLabel {
				t.Errorf("label = %q, want %q", label, tt.wantLabel)
			}
			if math.Abs(score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %g, want %g", score, tt.wantScore)
			}
		})
	}
}

func TestLocationScale(t *testing.T) {
	s := LocationScaleFor([]float64{0, 7, 3.5})
	if s.Min != 0 || s.Max != 7 {
		t.Fatalf("scale = %+v, want min 0 max 7", s)
	}
	if got := s.Normalize(7); got != 1 {
		t.Errorf("Normalize(7) = %g, want 1", got)
	}
	if got := s.Normalize(3.5); got != 0.5 {
		t.Errorf("Normalize(3.5) = %g, want 0.5", got)
	}

	// A batch with no spread gives full confidence to any match.
	flat := LocationScaleFor([]float64{4, 4})
	if got := flat.Normalize(4); got != 1 {
		t.Errorf("flat Normalize(4) = %g, want 1", got)
	}
	if got := LocationScaleFor(nil).Normalize(2); got != 1 {
		t.Errorf("empty-batch Normalize = %g, want 1", got)
	}
}
