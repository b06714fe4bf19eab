package nl2sql

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const minQuestionLength = 3

const (
	NoteTooShort        = "Question too short."
	NoteGrouped         = "OK (rules-based)"
	NoteTopN            = "OK (rules-based top-10)"
	NoteSimpleAggregate = "OK (rules-based simple aggregate)"
)

// yearPattern bounds the year with non-word runes rather than \b, which only
// treats ASCII as word characters.
var yearPattern = regexp.MustCompile(`(?:^|[^\pL\pN_])(20\d{2})(?:$|[^\pL\pN_])`)

// Question is a user question together with its normalized form.
type Question struct {
	Text       string
	Normalized string
}

func NewQuestion(text string) Question {
	return Question{Text: text, Normalized: strings.ToLower(strings.TrimSpace(text))}
}

// Translation is the output of one rule translation. An empty SQL means the
// question could not be translated; Note says why or which branch fired.
type Translation struct {
	SQL  string `json:"sql,omitempty"`
	Note string `json:"note"`
}

func (t Translation) Ok() bool {
	return t.SQL != ""
}

// AggregationSpec is what the rules extracted from a question. It fully
// determines the emitted SQL.
type AggregationSpec struct {
	TimeGrain TimeGrain `json:"time_grain,omitempty"`
	Dimension string    `json:"dimension,omitempty"`
	Metric    string    `json:"metric"`
	Year      string    `json:"year,omitempty"`
	TopN      bool      `json:"top_n"`
}

func (s AggregationSpec) grouped() bool {
	return s.TimeGrain != GrainNone || s.Dimension != ""
}

// RuleTranslator maps constrained question patterns to a single SELECT over
// the vocabulary's table. It holds no mutable state and is safe for
// concurrent use.
type RuleTranslator struct {
	vocab Vocabulary
}

func NewRuleTranslator(vocab Vocabulary) *RuleTranslator {
	return &RuleTranslator{vocab: vocab}
}

// Plan derives the aggregation spec for a question. ok is false when the
// question is too short to translate.
func (t *RuleTranslator) Plan(question string) (AggregationSpec, bool) {
	q := NewQuestion(question).Normalized
	if utf8.RuneCountInString(q) < minQuestionLength {
		return AggregationSpec{}, false
	}

	spec := AggregationSpec{
		Year:      matchYear(q),
		Metric:    t.matchMetric(q),
		TimeGrain: t.matchGrain(q),
		Dimension: t.matchDimension(q),
	}
	spec.TopN = !spec.grouped() && t.vocab.TopKeyword != "" && strings.Contains(q, t.vocab.TopKeyword)
	return spec, true
}

func (t *RuleTranslator) Translate(question string) Translation {
	spec, ok := t.Plan(question)
	if !ok {
		return Translation{Note: NoteTooShort}
	}
	return t.Render(spec)
}

// Render assembles the SQL statement for a spec.
func (t *RuleTranslator) Render(spec AggregationSpec) Translation {
	where := ""
	if spec.Year != "" {
		where = "WHERE EXTRACT(year FROM CAST(" + t.vocab.DateColumn + " AS DATE)) = " + spec.Year
	}

	var selects, groupBy []string
	if spec.grouped() {
		if grain, ok := t.vocab.grain(spec.TimeGrain); ok {
			selects = append(selects, grain.Expression)
			groupBy = append(groupBy, grain.Column)
		}
		if dim, ok := t.vocab.dimension(spec.Dimension); ok {
			selects = append(selects, dim.Column+" AS "+dim.Column)
			groupBy = append(groupBy, dim.Column)
		}
	}
	if len(groupBy) > 0 {
		selects = append(selects, spec.Metric)
		return Translation{
			SQL: joinClauses(
				"SELECT "+strings.Join(selects, ", "),
				"FROM "+t.vocab.Table,
				where,
				"GROUP BY "+strings.Join(groupBy, ", "),
				"ORDER BY "+groupBy[0]+" ASC",
				"LIMIT "+strconv.Itoa(t.vocab.GroupLimit),
			),
			Note: NoteGrouped,
		}
	}

	if spec.TopN {
		return Translation{
			SQL: joinClauses(
				"SELECT "+t.vocab.TopDimension+", "+spec.Metric,
				"FROM "+t.vocab.Table,
				where,
				"GROUP BY "+t.vocab.TopDimension,
				"ORDER BY 2 DESC",
				"LIMIT "+strconv.Itoa(t.vocab.TopLimit),
			),
			Note: NoteTopN,
		}
	}

	return Translation{
		SQL:  joinClauses("SELECT "+spec.Metric, "FROM "+t.vocab.Table, where),
		Note: NoteSimpleAggregate,
	}
}

func matchYear(q string) string {
	if m := yearPattern.FindStringSubmatch(q); m != nil {
		return m[1]
	}
	return ""
}

func (t *RuleTranslator) matchMetric(q string) string {
	for _, term := range t.vocab.Metrics {
		if strings.Contains(q, term.Keyword) {
			return term.Expression
		}
	}
	return t.vocab.DefaultMetric
}

func (t *RuleTranslator) matchGrain(q string) TimeGrain {
	for _, term := range t.vocab.Grains {
		for _, phrase := range term.Phrases {
			if strings.Contains(q, phrase) {
				return term.Grain
			}
		}
	}
	return GrainNone
}

func (t *RuleTranslator) matchDimension(q string) string {
	for _, term := range t.vocab.Dimensions {
		if strings.Contains(q, "by "+term.Name) || strings.Contains(q, "per "+term.Name) {
			return term.Name
		}
	}
	return ""
}

func joinClauses(clauses ...string) string {
	parts := make([]string, 0, len(clauses))
	for _, clause := range clauses {
		if clause != "" {
			parts = append(parts, clause)
		}
	}
	return strings.Join(parts, " ")
}
