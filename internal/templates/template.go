// Package templates loads the per-event action templates referenced by an
// event's config_ref: announcement text, scoreboard objectives and rewards.
package templates

const defaultScoreText = "points"

type Template struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Commands           Commands `json:"commands"`
	AggregateObjective string   `json:"aggregate_objective"`
	IsAggregate        bool     `json:"is_aggregate"`
	Sidebar            *Sidebar `json:"sidebar,omitempty"`
	ScoreText          string   `json:"score_text"`
	RewardCmd          string   `json:"reward_cmd"`
	RewardName         string   `json:"reward_name"`
}

type Commands struct {
	Setup     []string `json:"setup"`
	Aggregate []string `json:"aggregate"`
	Cleanup   []string `json:"cleanup"`
}

type Sidebar struct {
	DisplayName string `json:"displayName"`
	Duration    int    `json:"duration"`
	Bold        bool   `json:"bold"`
	Color       string `json:"color"`
}

func (t *Template) applyDefaults() {
	if t.ScoreText == "" {
		t.ScoreText = defaultScoreText
	}
}

// HasReward reports whether winners can be handed an item.
func (t *Template) HasReward() bool {
	return t.RewardCmd != ""
}
