package pipeline

// Stage - state of block inside the pipeline
type Stage int

// stages
const (
	StageFetched Stage = iota
	StageInterning
	StageWriting
	StageAggregating
	StageCommitted
	StageRetracted
)

// String -
func (s Stage) String() string {
	switch s {
	case StageFetched:
		return "fetched"
	case StageInterning:
		return "interning"
	case StageWriting:
		return "writing"
	case StageAggregating:
		return "aggregating"
	case StageCommitted:
		return "committed"
	case StageRetracted:
		return "retracted"
	default:
		return "unknown"
	}
}
