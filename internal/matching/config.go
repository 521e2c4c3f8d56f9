package matching

// Config tunes a matching run.
type Config struct {
	// MinScore is the floor below which a scored listing is discarded.
	MinScore float64 `json:"min_score" mapstructure:"min_score"`
	// MaxResults caps how many matches one run may surface.
	MaxResults int `json:"max_results" mapstructure:"max_results"`
}

// DefaultConfig returns the baseline: a 0.4 floor (roughly, the price +
// category + neighborhood triad or equivalent must hold) and ten results.
func DefaultConfig() Config {
	return Config{
		MinScore:   0.4,
		MaxResults: 10,
	}
}
