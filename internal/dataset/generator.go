// Package dataset produces the synthetic orders table the service queries:
// deterministic row generation, parquet encoding, DuckDB loading and
// publishing to the object store.
package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	DefaultSeed = 42
	DefaultRows = 25000
)

// Order is one row of the orders table. order_date is stored as an ISO date
// string, so queries cast it to DATE.
type Order struct {
	OrderID     string  `parquet:"order_id" json:"order_id"`
	OrderDate   string  `parquet:"order_date" json:"order_date"`
	Region      string  `parquet:"region" json:"region"`
	Category    string  `parquet:"category" json:"category"`
	Subcategory string  `parquet:"subcategory" json:"subcategory"`
	Quantity    int64   `parquet:"quantity" json:"quantity"`
	Revenue     float64 `parquet:"revenue" json:"revenue"`
	Cost        float64 `parquet:"cost" json:"cost"`
	Profit      float64 `parquet:"profit" json:"profit"`
}

type priceRange struct {
	min float64
	max float64
}

var (
	regions       = []string{"North", "South", "East", "West"}
	categories    = []string{"Office Supplies", "Technology", "Furniture"}
	subcategories = map[string][]string{
		"Office Supplies": {"Paper", "Binders", "Storage", "Pens"},
		"Technology":      {"Phones", "Accessories", "Laptops", "Monitors"},
		"Furniture":       {"Chairs", "Tables", "Bookcases"},
	}
	unitPrices = map[string]priceRange{
		"Office Supplies": {min: 5, max: 80},
		"Furniture":       {min: 40, max: 900},
		"Technology":      {min: 50, max: 1200},
	}
)

// Generator emits a reproducible stream of orders for a seed.
type Generator struct {
	rnd      *rand.Rand
	start    time.Time
	spanDays int
	sequence int
}

func NewGenerator(seed int64) *Generator {
	start := time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC)
	return &Generator{
		rnd:      rand.New(rand.NewSource(seed)),
		start:    start,
		spanDays: int(end.Sub(start).Hours() / 24),
	}
}

func (g *Generator) Next() Order {
	g.sequence++
	orderDate := g.start.AddDate(0, 0, g.rnd.Intn(g.spanDays+1))
	category := pickOne(g.rnd, categories)
	prices := unitPrices[category]

	quantity := int64(g.rnd.Intn(10) + 1)
	unitPrice := round2(prices.min + g.rnd.Float64()*(prices.max-prices.min))
	revenue := round2(float64(quantity) * unitPrice)
	cost := round2(revenue * (0.55 + g.rnd.Float64()*0.30))

	return Order{
		OrderID:     fmt.Sprintf("O%06d", g.sequence),
		OrderDate:   orderDate.Format("2006-01-02"),
		Region:      pickOne(g.rnd, regions),
		Category:    category,
		Subcategory: pickOne(g.rnd, subcategories[category]),
		Quantity:    quantity,
		Revenue:     revenue,
		Cost:        cost,
		Profit:      round2(revenue - cost),
	}
}

func (g *Generator) Generate(n int) []Order {
	orders := make([]Order, 0, n)
	for i := 0; i < n; i++ {
		orders = append(orders, g.Next())
	}
	return orders
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
