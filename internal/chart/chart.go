// Package chart decides how a query result should be plotted. It shapes the
// data only; rendering is left to the client.
package chart

import (
	"fmt"
	"sort"
)

type Kind string

const (
	KindColumn    Kind = "column"
	KindClustered Kind = "clustered"
)

const (
	NoteNoData     = "No data to chart."
	NoteNoMetric   = "No numeric metric to chart."
	NoteNoSuitable = "No suitable chart found."
	monthColumn    = "month"
	categoryColumn = "category"
)

// Series is one set of bars. Values line up with Spec.Labels; a nil entry
// means the series has no value for that label.
type Series struct {
	Name   string     `json:"name"`
	Values []*float64 `json:"values"`
}

type Spec struct {
	Kind   Kind     `json:"kind"`
	X      string   `json:"x"`
	Y      string   `json:"y"`
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
}

// Pick chooses a chart for a result. It returns nil and an explanatory note
// when nothing sensible can be drawn.
func Pick(columns []string, rows [][]any) (*Spec, string) {
	if len(columns) == 0 || len(rows) == 0 {
		return nil, NoteNoData
	}

	index := make(map[string]int, len(columns))
	for i, column := range columns {
		index[column] = i
	}

	monthIdx, hasMonth := index[monthColumn]
	categoryIdx, hasCategory := index[categoryColumn]
	if hasMonth && hasCategory {
		metricIdx := -1
		for i, column := range columns {
			if column != monthColumn && column != categoryColumn && numericColumn(rows, i) {
				metricIdx = i
				break
			}
		}
		if metricIdx < 0 {
			return nil, NoteNoMetric
		}
		spec := clustered(rows, monthIdx, categoryIdx, metricIdx)
		spec.Y = columns[metricIdx]
		return spec, fmt.Sprintf("Clustered column chart: %s by category per month", spec.Y)
	}

	if len(columns) >= 2 {
		for i := 1; i < len(columns); i++ {
			if numericColumn(rows, i) {
				spec := column(rows, 0, i)
				spec.X, spec.Y = columns[0], columns[i]
				return spec, fmt.Sprintf("Column chart: %s by %s", spec.Y, spec.X)
			}
		}
	}
	return nil, NoteNoSuitable
}

func clustered(rows [][]any, monthIdx, categoryIdx, metricIdx int) *Spec {
	sums := map[string]map[string]float64{}
	monthSet := map[string]struct{}{}
	for _, row := range rows {
		month := label(row[monthIdx])
		category := label(row[categoryIdx])
		value, ok := toFloat(row[metricIdx])
		if !ok {
			continue
		}
		monthSet[month] = struct{}{}
		if sums[category] == nil {
			sums[category] = map[string]float64{}
		}
		sums[category][month] += value
	}

	months := sortedKeys(monthSet)
	categories := make([]string, 0, len(sums))
	for category := range sums {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	spec := &Spec{Kind: KindClustered, X: monthColumn, Labels: months}
	for _, category := range categories {
		series := Series{Name: category, Values: make([]*float64, len(months))}
		for i, month := range months {
			if value, ok := sums[category][month]; ok {
				v := value
				series.Values[i] = &v
			}
		}
		spec.Series = append(spec.Series, series)
	}
	return spec
}

type point struct {
	x     any
	label string
	value *float64
}

func column(rows [][]any, xIdx, yIdx int) *Spec {
	points := make([]point, 0, len(rows))
	for _, row := range rows {
		p := point{x: row[xIdx], label: label(row[xIdx])}
		if value, ok := toFloat(row[yIdx]); ok {
			p.value = &value
		}
		points = append(points, p)
	}
	sort.SliceStable(points, func(i, j int) bool {
		return less(points[i].x, points[j].x)
	})

	series := Series{Values: make([]*float64, len(points))}
	labels := make([]string, len(points))
	for i, p := range points {
		labels[i] = p.label
		series.Values[i] = p.value
	}
	return &Spec{Kind: KindColumn, Labels: labels, Series: []Series{series}}
}

// numericColumn reports whether every non-null value in the column is a
// number and at least one is present.
func numericColumn(rows [][]any, idx int) bool {
	seen := false
	for _, row := range rows {
		if idx >= len(row) || row[idx] == nil {
			continue
		}
		if _, ok := toFloat(row[idx]); !ok {
			return false
		}
		seen = true
	}
	return seen
}

func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int8:
		return float64(typed), true
	case int16:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint8:
		return float64(typed), true
	case uint16:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	default:
		return 0, false
	}
}

// less orders numbers numerically and everything else by its label, with
// numbers first and nulls last.
func less(a, b any) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	switch {
	case aNum && bNum:
		return af < bf
	case aNum != bNum:
		return aNum
	case a == nil || b == nil:
		return b == nil && a != nil
	default:
		return label(a) < label(b)
	}
}

func label(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
