package fieldsync

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeSkipped
	outcomeUpdated
	outcomeFailed
)

// Stats counts field outcomes for one direction of one pair.
type Stats struct {
	Checked   int `json:"checked"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

func (s *Stats) record(o outcome) {
	s.Checked++
	switch o {
	case outcomeUnchanged:
		s.Unchanged++
	case outcomeSkipped:
		s.Skipped++
	case outcomeUpdated:
		s.Updated++
	case outcomeFailed:
		s.Failed++
	}
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Checked += other.Checked
	s.Unchanged += other.Unchanged
	s.Skipped += other.Skipped
	s.Updated += other.Updated
	s.Failed += other.Failed
}
