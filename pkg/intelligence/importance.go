// Package intelligence derives default importance scores for memories from
// their content and metadata.
package intelligence

import (
	"math"
	"strings"
	"unicode/utf8"
)

// DefaultBaseScore is the importance of content that matches no heuristic.
const DefaultBaseScore = 0.2

// ImportanceEvaluator evaluates the importance of memory content.
//
// Scoring is rule-based: a base score plus weighted contributions from
// keyword criteria, content length, punctuation, and the "priority" and
// "tags" metadata keys. The result is always within [0, 1] and depends only
// on its inputs.
//
// Example usage:
//
//	evaluator := NewImportanceEvaluator()
//	score := evaluator.Evaluate("Remember: user's birthday is March 15th", nil)
type ImportanceEvaluator struct {
	// baseScore is the starting score before any criterion applies.
	baseScore float64

	// criteriaWeights defines the weight of each evaluation criterion.
	criteriaWeights map[string]float64
}

// NewImportanceEvaluator creates a new importance evaluator with default
// criterion weights:
//   - emphasis: 0.3
//   - personal: 0.2
//   - emotional_impact: 0.15
//   - actionable: 0.15
//   - factual: 0.1
//   - novelty: 0.1
func NewImportanceEvaluator() *ImportanceEvaluator {
	return &ImportanceEvaluator{
		baseScore: DefaultBaseScore,
		criteriaWeights: map[string]float64{
			"emphasis":         0.3,
			"personal":         0.2,
			"emotional_impact": 0.15,
			"actionable":       0.15,
			"factual":          0.1,
			"novelty":          0.1,
		},
	}
}

var criterionKeywords = map[string][]string{
	"emphasis":         {"important", "critical", "urgent", "remember", "note", "must", "never forget"},
	"personal":         {"my ", "i am", "i'm", "myself", "personal", "private", "confidential", "password", "secret"},
	"emotional_impact": {"love", "hate", "happy", "sad", "angry", "excited", "worried", "afraid", "prefer", "dislike"},
	"actionable":       {"todo", "deadline", "due", "schedule", "remind", "fix", "complete", "call", "meeting"},
	"factual":          {"fact", "data", "statistic", "research", "evidence", "confirmed", "verified", "birthday", "address"},
	"novelty":          {"new", "first", "never", "unique", "changed", "now"},
}

// Evaluate returns an importance score in [0, 1] for content.
func (e *ImportanceEvaluator) Evaluate(content string, metadata map[string]interface{}) float64 {
	score := e.baseScore
	for criterion, value := range e.Breakdown(content) {
		score += e.criteriaWeights[criterion] * value
	}

	switch n := utf8.RuneCountInString(content); {
	case n > 200:
		score += 0.1
	case n > 80:
		score += 0.05
	}
	if strings.Contains(content, "!") {
		score += 0.05
	}

	if metadata != nil {
		if priority, ok := metadata["priority"].(string); ok {
			switch strings.ToLower(priority) {
			case "high":
				score += 0.2
			case "medium":
				score += 0.1
			case "low":
				score -= 0.1
			}
		}
		if tags, ok := metadata["tags"].([]interface{}); ok && len(tags) > 0 {
			score += 0.05
		}
	}

	return clamp(score)
}

// Breakdown returns a per-criterion score in [0, 1]. Each matching keyword
// contributes a half point, so two matches saturate a criterion.
func (e *ImportanceEvaluator) Breakdown(content string) map[string]float64 {
	lower := strings.ToLower(content) + " "
	breakdown := make(map[string]float64, len(e.criteriaWeights))
	for criterion := range e.criteriaWeights {
		hits := 0
		for _, keyword := range criterionKeywords[criterion] {
			if strings.Contains(lower, keyword) {
				hits++
			}
		}
		breakdown[criterion] = math.Min(float64(hits)*0.5, 1.0)
	}
	return breakdown
}

func clamp(score float64) float64 {
	return math.Max(0, math.Min(score, 1.0))
}
