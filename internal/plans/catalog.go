// Package plans holds the investment plan catalog and the plan lifecycle:
// activation, daily accrual, and expiry.
package plans

// Plan is an immutable catalog entry
type Plan struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	Investment   float64 `json:"investment"`
	DailyReturn  float64 `json:"daily_return"`
	DurationDays int     `json:"duration_days"`
	TotalReturn  float64 `json:"total_return"`
	TasksPerDay  int     `json:"tasks_per_day"`
	Trial        bool    `json:"trial"`
}

// Catalog defines all investment tiers. Plan 1 is the free trial, eligible at
// most once per user and only while no plan is active.
var Catalog = []Plan{
	{ID: 1, Name: "Trial", Investment: 0, DailyReturn: 0.30, DurationDays: 3, TotalReturn: 0.90, TasksPerDay: 1, Trial: true},
	{ID: 2, Name: "Starter", Investment: 100, DailyReturn: 3.00, DurationDays: 30, TotalReturn: 90, TasksPerDay: 1},
	{ID: 3, Name: "Bronze", Investment: 300, DailyReturn: 9.60, DurationDays: 35, TotalReturn: 336, TasksPerDay: 2},
	{ID: 4, Name: "Silver", Investment: 500, DailyReturn: 17.00, DurationDays: 40, TotalReturn: 680, TasksPerDay: 2},
	{ID: 5, Name: "Gold", Investment: 1000, DailyReturn: 36.00, DurationDays: 45, TotalReturn: 1620, TasksPerDay: 3},
	{ID: 6, Name: "Platinum", Investment: 2000, DailyReturn: 76.00, DurationDays: 50, TotalReturn: 3800, TasksPerDay: 3},
	{ID: 7, Name: "Diamond", Investment: 5000, DailyReturn: 200.00, DurationDays: 55, TotalReturn: 11000, TasksPerDay: 4},
	{ID: 8, Name: "Elite", Investment: 10000, DailyReturn: 420.00, DurationDays: 60, TotalReturn: 25200, TasksPerDay: 5},
}

// ByID returns the catalog entry for id
func ByID(id int) (Plan, bool) {
	for _, p := range Catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}
