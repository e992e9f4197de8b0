package a2a

import (
	"sort"
	"strings"
)

// MatchAgents ranks agents whose capabilities or name overlap with the
// words of description. Agents with no overlap are dropped.
func MatchAgents(agents []AgentInfo, description string) []AgentInfo {
	words := strings.Fields(strings.ToLower(description))
	type scored struct {
		info  AgentInfo
		score int
	}
	var matched []scored
	for _, a := range agents {
		if a.Status != "" && a.Status != StatusActive {
			continue
		}
		if s := matchScore(a, words); s > 0 {
			matched = append(matched, scored{a, s})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].score > matched[j].score })

	out := make([]AgentInfo, len(matched))
	for i, m := range matched {
		out[i] = m.info
	}
	return out
}

func matchScore(a AgentInfo, words []string) int {
	score := 0
	name := strings.ToLower(a.Name)
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		for _, c := range a.Capabilities {
			if strings.Contains(strings.ToLower(strings.ReplaceAll(c, "_", " ")), w) {
				score++
			}
		}
		if strings.Contains(name, w) {
			score++
		}
	}
	return score
}
