package orchestrator

import (
	"strings"

	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/similarity"
)

// filterReason returns why an item is kept out of the pipeline, or "" when
// it passes the topic's negative keywords and competing regions. Terms match
// on whole normalized words.
func filterReason(topic models.Topic, c models.CandidateItem) string {
	text := " " + similarity.Normalize(c.Title+" "+c.Content) + " "
	if term := firstMatch(text, topic.NegativeKeywords); term != "" {
		return "negative keyword: " + term
	}
	if term := firstMatch(text, topic.CompetingRegions); term != "" {
		return "competing region: " + term
	}
	return ""
}

func firstMatch(text string, terms []string) string {
	for _, term := range terms {
		n := similarity.Normalize(term)
		if n == "" {
			continue
		}
		if strings.Contains(text, " "+n+" ") {
			return term
		}
	}
	return ""
}
