package rubric

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidRubric is returned when a rubric carries no positive weight.
var ErrInvalidRubric = errors.New("rubric has no weighted criteria")

// Criterion is a named grading dimension with a relative weight.
type Criterion struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Rubric is an ordered list of criteria. Weights need not sum to one.
type Rubric []Criterion

// Points is a raw point allocation for one criterion.
type Points struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
}

// FromPoints derives weights as points/total and returns the total as the
// per-question maximum score. Criteria worth zero points are dropped.
func FromPoints(points []Points) (Rubric, float64, error) {
	var total float64
	for _, p := range points {
		if p.Points > 0 {
			total += p.Points
		}
	}
	if total <= 0 {
		return nil, 0, ErrInvalidRubric
	}

	seen := make(map[string]struct{}, len(points))
	r := make(Rubric, 0, len(points))
	for _, p := range points {
		name := strings.TrimSpace(p.Name)
		if p.Points <= 0 || name == "" {
			continue
		}
		key := normalizeKey(name)
		if _, dup := seen[key]; dup {
			return nil, 0, fmt.Errorf("%w: duplicate criterion %q", ErrInvalidRubric, name)
		}
		seen[key] = struct{}{}
		r = append(r, Criterion{Name: name, Weight: p.Points / total})
	}
	return r, total, nil
}

// TotalWeight sums the positive weights.
func (r Rubric) TotalWeight() float64 {
	var sum float64
	for _, c := range r {
		if c.Weight > 0 {
			sum += c.Weight
		}
	}
	return sum
}

// Names returns criterion names in rubric order.
func (r Rubric) Names() []string {
	names := make([]string, len(r))
	for idx, c := range r {
		names[idx] = c.Name
	}
	return names
}

// Bound is the largest score a criterion may receive for the given maximum.
func (r Rubric) Bound(c Criterion, maxScore float64) float64 {
	total := r.TotalWeight()
	if total <= 0 || maxScore <= 0 || c.Weight <= 0 {
		return 0
	}
	return c.Weight / total * maxScore
}

// Mode records how an allocation was produced.
type Mode string

const (
	ModeJudged       Mode = "judged"
	ModeProportional Mode = "proportional"
	ModeZero         Mode = "zero"
)

// Score is the points awarded for a single criterion.
type Score struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	Max   float64 `json:"max"`
}

// Allocation is the reconciled, complete set of criterion scores.
type Allocation struct {
	Score  float64  `json:"score"`
	Scores []Score  `json:"scores"`
	Mode   Mode     `json:"mode"`
	Faults []string `json:"faults,omitempty"`
}

// Map returns the criterion scores keyed by name.
func (a Allocation) Map() map[string]float64 {
	out := make(map[string]float64, len(a.Scores))
	for _, s := range a.Scores {
		out[s.Name] = s.Score
	}
	return out
}

// Sum adds the criterion scores.
func (a Allocation) Sum() float64 {
	var sum float64
	for _, s := range a.Scores {
		sum += s.Score
	}
	return sum
}

// Allocate reconciles the judge's overall score and optional per-criterion
// scores into one bounded score per criterion, rounded to one decimal place.
//
// Judged values are kept only when every criterion is present and the values
// agree with the overall score; otherwise every criterion is recomputed from
// the overall score and the rubric weights.
func Allocate(score any, maxScore float64, r Rubric, judged map[string]any) Allocation {
	var faults []string

	overall, ok := Coerce(score)
	if !ok && score != nil {
		faults = append(faults, fmt.Sprintf("score: non-numeric value %v", score))
	}
	if maxScore < 0 {
		maxScore = 0
	}
	overall = Round1(clamp(overall, 0, maxScore))

	alloc := Allocation{Score: overall, Scores: make([]Score, len(r))}
	for idx, c := range r {
		alloc.Scores[idx] = Score{Name: c.Name, Max: floor1(r.Bound(c, maxScore))}
	}

	if r.TotalWeight() <= 0 || maxScore <= 0 {
		alloc.Mode = ModeZero
		alloc.Faults = faults
		return alloc
	}

	if values, complete, criterionFaults := lookupAll(r, judged); complete {
		for idx := range alloc.Scores {
			alloc.Scores[idx].Score = clamp(Round1(values[idx]), 0, alloc.Scores[idx].Max)
		}
		faults = append(faults, criterionFaults...)
		alloc.Mode = ModeJudged
		if alloc.Consistent() {
			alloc.Faults = faults
			return alloc
		}
		faults = append(faults, fmt.Sprintf("criterion scores sum to %.1f, overall score is %.1f", alloc.Sum(), overall))
	}

	total := r.TotalWeight()
	for idx, c := range r {
		var share float64
		if c.Weight > 0 {
			share = overall * c.Weight / total
		}
		alloc.Scores[idx].Score = clamp(Round1(share), 0, alloc.Scores[idx].Max)
	}
	alloc.Mode = ModeProportional
	alloc.Faults = faults
	return alloc
}

// Consistent reports whether the criterion scores sum to the overall score
// within rounding tolerance.
func (a Allocation) Consistent() bool {
	return math.Abs(a.Sum()-a.Score) <= tolerance(len(a.Scores))+1e-9
}

func lookupAll(r Rubric, judged map[string]any) ([]float64, bool, []string) {
	if len(judged) == 0 {
		return nil, false, nil
	}
	values := make([]float64, len(r))
	var faults []string
	for idx, c := range r {
		raw, found := Lookup(judged, c.Name)
		if !found {
			return nil, false, nil
		}
		value, ok := Coerce(raw)
		if !ok {
			faults = append(faults, fmt.Sprintf("%s: non-numeric value %v", c.Name, raw))
		}
		values[idx] = value
	}
	return values, true, faults
}

// Lookup finds the judge's value for a criterion. The key "score_<name>" wins;
// otherwise keys are compared ignoring case, spaces and the "score_" prefix.
func Lookup(judged map[string]any, name string) (any, bool) {
	if v, ok := judged["score_"+name]; ok {
		return v, true
	}
	want := normalizeKey(name)
	for key, v := range judged {
		if normalizeKey(trimScorePrefix(key)) == want {
			return v, true
		}
	}
	return nil, false
}

// Coerce converts a decoded JSON value into a finite number.
func Coerce(v any) (float64, bool) {
	var f float64
	switch value := v.(type) {
	case float64:
		f = value
	case float32:
		f = float64(value)
	case int:
		f = float64(value)
	case int64:
		f = float64(value)
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func floor1(v float64) float64 {
	return math.Floor(v*10+1e-9) / 10
}

func tolerance(count int) float64 {
	if count == 0 {
		return 0
	}
	return 0.1 * float64(count)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func trimScorePrefix(key string) string {
	lower := strings.ToLower(strings.TrimSpace(key))
	for _, prefix := range []string{"score_", "score "} {
		if strings.HasPrefix(lower, prefix) {
			return lower[len(prefix):]
		}
	}
	return lower
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
}
