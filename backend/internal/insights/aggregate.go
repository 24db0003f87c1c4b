package insights

import (
	"sort"
	"strings"
	"time"

	"deepintrospect/backend/internal/constants"
	"deepintrospect/backend/internal/state"
)

// Category is one bucket of insights sharing a type
type Category struct {
	Category string          `json:"category"`
	Count    int             `json:"count"`
	Insights []state.Insight `json:"insights"`
}

// Categorize groups insights by lower-cased type. Buckets are ordered by count, largest first;
// equal counts keep the order in which their type was first seen.
func Categorize(insights []state.Insight) []Category {
	index := map[string]int{}
	buckets := []Category{}
	for _, in := range insights {
		key := categoryKey(in.Type)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, Category{Category: key, Insights: []state.Insight{}})
		}
		buckets[i].Count++
		buckets[i].Insights = append(buckets[i].Insights, in)
	}
	sort.SliceStable(buckets, func(a, b int) bool {
		return buckets[a].Count > buckets[b].Count
	})
	return buckets
}

func categoryKey(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return constants.UnknownInsightType
	}
	return t
}

// Trends summarises how recently insights were recorded
type Trends struct {
	LastWeek           int    `json:"last_week"`
	LastMonth          int    `json:"last_month"`
	Total              int    `json:"total"`
	MostCommonCategory string `json:"most_common_category"`
}

// TrendAnalysis counts insights created within 7 and 30 days of now. Times are compared in UTC.
// The most common category breaks ties lexicographically and is empty when there are no insights.
func TrendAnalysis(insights []state.Insight, now time.Time) Trends {
	now = now.UTC()
	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, 0, -30)

	trends := Trends{Total: len(insights)}
	counts := map[string]int{}
	for _, in := range insights {
		created := in.CreatedAt.UTC()
		if !created.Before(weekAgo) {
			trends.LastWeek++
		}
		if !created.Before(monthAgo) {
			trends.LastMonth++
		}
		counts[categoryKey(in.Type)]++
	}

	best := 0
	for category, n := range counts {
		if n > best || (n == best && category < trends.MostCommonCategory) {
			best = n
			trends.MostCommonCategory = category
		}
	}
	return trends
}

// Analysis is the aggregated view of a user's insights
type Analysis struct {
	TotalCount     int             `json:"total_count"`
	Categories     map[string]int  `json:"categories"`
	RecentInsights []state.Insight `json:"recent_insights"`
	TopPatterns    []state.Insight `json:"top_patterns"`
	TrendAnalysis  Trends          `json:"trend_analysis"`
}

// Analyze builds the analysis view. insights must be ordered newest first.
func Analyze(insights []state.Insight, now time.Time) Analysis {
	analysis := Analysis{
		TotalCount:     len(insights),
		Categories:     map[string]int{},
		RecentInsights: []state.Insight{},
		TopPatterns:    []state.Insight{},
		TrendAnalysis:  TrendAnalysis(insights, now),
	}
	for _, c := range Categorize(insights) {
		analysis.Categories[c.Category] = c.Count
	}

	analysis.RecentInsights = append(analysis.RecentInsights, insights[:min(len(insights), constants.RecentInsightsLimit)]...)

	for _, in := range insights {
		if categoryKey(in.Type) == state.InsightPattern {
			analysis.TopPatterns = append(analysis.TopPatterns, in)
		}
	}
	sort.SliceStable(analysis.TopPatterns, func(a, b int) bool {
		return analysis.TopPatterns[a].Confidence > analysis.TopPatterns[b].Confidence
	})
	if len(analysis.TopPatterns) > constants.TopPatternsLimit {
		analysis.TopPatterns = analysis.TopPatterns[:constants.TopPatternsLimit]
	}
	return analysis
}
