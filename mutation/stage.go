package mutation

// Stage is the position of a mutation in its lifecycle
type Stage int

const (
	StageSnapshot Stage = iota
	StageApply
	StageCall
	StageSucceeded
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageSnapshot:
		return "snapshot"
	case StageApply:
		return "apply"
	case StageCall:
		return "call"
	case StageSucceeded:
		return "succeeded"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Settled reports whether s is a terminal stage
func (s Stage) Settled() bool {
	return s == StageSucceeded || s == StageFailed
}
