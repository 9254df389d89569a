package transfer

// Strategy is how a transfer moves an object.
type Strategy int

const (
	// StrategySimple moves the whole object in one store operation.
	StrategySimple Strategy = iota
	// StrategyChunked moves the object block by block.
	StrategyChunked
)

func (s Strategy) String() string {
	switch s {
	case StrategySimple:
		return "simple"
	case StrategyChunked:
		return "chunked"
	default:
		return "unknown"
	}
}

// Policy picks a strategy from an object's size.
type Policy struct {
	SizeThreshold int64
}

// Decide returns StrategyChunked iff size exceeds the threshold.
func (p Policy) Decide(size int64) Strategy {
	if size > p.SizeThreshold {
		return StrategyChunked
	}
	return StrategySimple
}
