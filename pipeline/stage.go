package pipeline

// Stage is a step in processing one frame.
type Stage int

// Stages in the order a frame passes through them. Integrating is skipped when nothing
// matched.
const (
	Idle Stage = iota
	Extracting
	Matching
	Ranking
	Integrating
	Done
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "idle"
	case Extracting:
		return "extracting"
	case Matching:
		return "matching"
	case Ranking:
		return "ranking"
	case Integrating:
		return "integrating"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
