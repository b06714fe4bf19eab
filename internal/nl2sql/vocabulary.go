package nl2sql

// TimeGrain is the granularity used to group results over order_date.
type TimeGrain string

const (
	GrainNone  TimeGrain = ""
	GrainDay   TimeGrain = "day"
	GrainMonth TimeGrain = "month"
	GrainYear  TimeGrain = "year"
)

// MetricTerm maps a question keyword to the aggregate it selects.
type MetricTerm struct {
	Keyword    string
	Expression string
}

// GrainTerm lists the phrases that select one time grain and the grouping
// expression emitted for it. Column is the alias used in GROUP BY / ORDER BY.
type GrainTerm struct {
	Grain      TimeGrain
	Phrases    []string
	Column     string
	Expression string
}

// DimensionTerm is a categorical column that may be grouped by.
type DimensionTerm struct {
	Name   string
	Column string
}

// Vocabulary is the fixed, ordered lookup table the rule translator matches
// against. Order is significant everywhere: the first matching entry wins.
type Vocabulary struct {
	Table         string
	DateColumn    string
	Metrics       []MetricTerm
	DefaultMetric string
	Grains        []GrainTerm
	Dimensions    []DimensionTerm
	TopKeyword    string
	TopDimension  string
	GroupLimit    int
	TopLimit      int
}

// DefaultVocabulary returns the vocabulary for the orders dataset.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Table:      "orders",
		DateColumn: "order_date",
		Metrics: []MetricTerm{
			{Keyword: "revenue", Expression: "SUM(revenue) AS revenue"},
			{Keyword: "sales", Expression: "SUM(revenue) AS revenue"},
			{Keyword: "profit", Expression: "SUM(profit) AS profit"},
			{Keyword: "cost", Expression: "SUM(cost) AS cost"},
			{Keyword: "quantity", Expression: "SUM(quantity) AS quantity"},
			{Keyword: "orders", Expression: "COUNT(*) AS orders"},
		},
		DefaultMetric: "SUM(revenue) AS revenue",
		Grains: []GrainTerm{
			{
				Grain:      GrainMonth,
				Phrases:    []string{"by month", "monthly", "per month"},
				Column:     "month",
				Expression: "DATE_TRUNC('month', CAST(order_date AS DATE)) AS month",
			},
			{
				Grain:      GrainDay,
				Phrases:    []string{"by day", "daily", "per day"},
				Column:     "day",
				Expression: "CAST(order_date AS DATE) AS day",
			},
			{
				Grain:      GrainYear,
				Phrases:    []string{"by year", "yearly", "per year"},
				Column:     "year",
				Expression: "EXTRACT(year FROM CAST(order_date AS DATE)) AS year",
			},
		},
		Dimensions: []DimensionTerm{
			{Name: "region", Column: "region"},
			{Name: "category", Column: "category"},
			{Name: "subcategory", Column: "subcategory"},
		},
		TopKeyword:   "top",
		TopDimension: "category",
		GroupLimit:   500,
		TopLimit:     10,
	}
}

func (v Vocabulary) grain(g TimeGrain) (GrainTerm, bool) {
	for _, term := range v.Grains {
		if term.Grain == g {
			return term, true
		}
	}
	return GrainTerm{}, false
}

func (v Vocabulary) dimension(name string) (DimensionTerm, bool) {
	for _, term := range v.Dimensions {
		if term.Name == name {
			return term, true
		}
	}
	return DimensionTerm{}, false
}
