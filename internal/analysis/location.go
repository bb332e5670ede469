package analysis

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Location keyword weights. Country names dominate, cities carry real
// signal, generic keywords are capped so a pile of weak hints cannot
// outvote a direct name.
const (
	countryNameWeight = 5.0
	cityWeight        = 2.0
	genericWeightMin  = 1.0
	genericWeightMax  = 3.0
)

// Gazetteer scores mention text against a fixed list of countries, each
// with its name variants, cities and generic keywords.
type Gazetteer struct {
	countries []gazetteerCountry
}

type gazetteerCountry struct {
	name     string
	names    []string
	cities   []string
	generics []weightedKeyword
}

type weightedKeyword struct {
	keyword string
	weight  float64
}

type gazetteerFile struct {
	Countries []gazetteerEntry `toml:"country"`
}

type gazetteerEntry struct {
	Name     string         `toml:"name"`
	Keywords []string       `toml:"keywords"`
	Cities   []string       `toml:"cities"`
	Generic  []genericEntry `toml:"generic"`
}

type genericEntry struct {
	Keyword string  `toml:"keyword"`
	Weight  float64 `toml:"weight"`
}

// LoadGazetteer reads the location keyword file. An empty path yields an
// empty gazetteer, which labels nothing.
func LoadGazetteer(path string) (*Gazetteer, error) {
	g := &Gazetteer{}
	if path == "" {
		return g, nil
	}
	var file gazetteerFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("analysis: read gazetteer %s: %w", path, err)
	}
	for i, entry := range file.Countries {
		if entry.Name == "" {
			return nil, fmt.Errorf("analysis: gazetteer entry %d has no name", i)
		}
		country := gazetteerCountry{name: entry.Name}
		names := entry.Keywords
		if len(names) == 0 {
			names = []string{entry.Name}
		}
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				country.names = append(country.names, n)
			}
		}
		for _, c := range entry.Cities {
			if c = strings.TrimSpace(c); c != "" {
				country.cities = append(country.cities, c)
			}
		}
		for _, gk := range entry.Generic {
			kw := strings.TrimSpace(gk.Keyword)
			if kw == "" {
				continue
			}
			w := gk.Weight
			if w < genericWeightMin {
				w = genericWeightMin
			}
			if w > genericWeightMax {
				w = genericWeightMax
			}
			country.generics = append(country.generics, weightedKeyword{keyword: kw, weight: w})
		}
		g.countries = append(g.countries, country)
	}
	return g, nil
}

// BestMatch sums matched keyword weights per country and returns the best
// country with its raw score. A zero score means no keywords matched and
// the mention stays unlabeled.
func (g *Gazetteer) BestMatch(text string) (string, float64) {
	var label string
	var bestScore float64
	for _, country := range g.countries {
		if score := country.score(text); score > bestScore {
			bestScore = score
			label = country.name
		}
	}
	return label, bestScore
}

// LocationScale min-max normalizes raw location scores across one claim
// batch. Confidence is relative standing within the batch; a lone matched
// mention gets full confidence.
type LocationScale struct {
	Min float64
	Max float64
}

// LocationScaleFor derives the scale from every raw score in a batch.
func LocationScaleFor(scores []float64) LocationScale {
	var s LocationScale
	for i, v := range scores {
		if i == 0 {
			s.Min, s.Max = v, v
			continue
		}
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	return s
}

// Normalize maps a raw score onto [0,1] within the batch. Zero raw scores
// stay unlabeled and never reach here.
func (s LocationScale) Normalize(raw float64) float64 {
	if spread := s.Max - s.Min; spread > 0 {
		return (raw - s.Min) / spread
	}
	return 1
}

func (c gazetteerCountry) score(text string) float64 {
	total := 0.0
	for _, n := range c.names {
		if containsWord(text, n) {
			total += countryNameWeight
		}
	}
	for _, city := range c.cities {
		if containsWord(text, city) {
			total += cityWeight
		}
	}
	for _, gk := range c.generics {
		if containsWord(text, gk.keyword) {
			total += gk.weight
		}
	}
	return total
}
