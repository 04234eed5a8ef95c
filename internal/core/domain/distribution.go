package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// SimplexTolerance is the maximum deviation from 1.0 allowed for the sum of
// a probability distribution.
const SimplexTolerance = 1e-6

type LabelScore struct {
	Label       string
	Probability float64
}

// Distribution is a probability vector over a classifier's label set, kept
// sorted by descending probability. Ties are broken by the canonical label
// order the distribution was built with, so the first entry is always the
// deterministic argmax.
type Distribution []LabelScore

// NewDistribution builds a sorted distribution from raw scores. The canonical
// slice fixes the tie-break order; labels missing from it sort last, among
// themselves lexicographically.
func NewDistribution(scores map[string]float64, canonical []string) Distribution {
	rank := make(map[string]int, len(canonical))
	for i, label := range canonical {
		rank[label] = i
	}

	d := make(Distribution, 0, len(scores))
	for label, p := range scores {
		d = append(d, LabelScore{Label: label, Probability: p})
	}
	sort.SliceStable(d, func(i, j int) bool {
		if d[i].Probability != d[j].Probability {
			return d[i].Probability > d[j].Probability
		}
		ri, iKnown := rank[d[i].Label]
		rj, jKnown := rank[d[j].Label]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown:
			return true
		case jKnown:
			return false
		default:
			return d[i].Label < d[j].Label
		}
	})
	return d
}

// SortByProbability restores the descending-probability order in place.
// Entries with equal probability keep their current relative order, so data
// deserialized from a store that reorders object keys still comes back with
// the argmax first.
func (d Distribution) SortByProbability() {
	sort.SliceStable(d, func(i, j int) bool {
		return d[i].Probability > d[j].Probability
	})
}

func (d Distribution) Get(label string) (float64, bool) {
	for _, s := range d {
		if s.Label == label {
			return s.Probability, true
		}
	}
	return 0, false
}

func (d Distribution) Sum() float64 {
	var sum float64
	for _, s := range d {
		sum += s.Probability
	}
	return sum
}

// ArgMax returns the label with the highest probability. The slice is sorted
// on construction, so this is the first entry.
func (d Distribution) ArgMax() string {
	if len(d) == 0 {
		return ""
	}
	return d[0].Label
}

func (d Distribution) Labels() []string {
	labels := make([]string, len(d))
	for i, s := range d {
		labels[i] = s.Label
	}
	return labels
}

// Validate checks the simplex invariant: the distribution covers exactly the
// given label set, every probability is non-negative, and the sum is 1.0
// within SimplexTolerance.
func (d Distribution) Validate(labelSet []string) error {
	if len(d) != len(labelSet) {
		return fmt.Errorf("distribution has %d labels, label set has %d", len(d), len(labelSet))
	}
	want := make(map[string]struct{}, len(labelSet))
	for _, label := range labelSet {
		want[label] = struct{}{}
	}
	seen := make(map[string]struct{}, len(d))
	for _, s := range d {
		if _, ok := want[s.Label]; !ok {
			return fmt.Errorf("label %q is not in the label set", s.Label)
		}
		if _, dup := seen[s.Label]; dup {
			return fmt.Errorf("duplicate label %q", s.Label)
		}
		seen[s.Label] = struct{}{}
		if s.Probability < 0 {
			return fmt.Errorf("label %q has negative probability %g", s.Label, s.Probability)
		}
	}
	if sum := d.Sum(); math.Abs(sum-1.0) >= SimplexTolerance {
		return fmt.Errorf("probabilities sum to %.9f, want 1.0 within %g", sum, SimplexTolerance)
	}
	return nil
}

// MarshalJSON emits a JSON object whose key order follows the slice order, so
// the descending-probability presentation survives serialization.
func (d Distribution) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(s.Probability)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object back in key order.
func (d *Distribution) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("distribution: expected JSON object")
	}

	out := Distribution{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := keyTok.(string)
		if !ok {
			return errors.New("distribution: expected string key")
		}
		var p float64
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("distribution: value for %q: %w", label, err)
		}
		out = append(out, LabelScore{Label: label, Probability: p})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = out
	return nil
}
