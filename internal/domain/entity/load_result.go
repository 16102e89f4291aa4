package entity

// Source tells the caller where a loaded value came from.
type Source int

const (
	SourceEmpty Source = iota
	SourceCached
	SourceFresh
)

func (s Source) String() string {
	switch s {
	case SourceFresh:
		return "fresh"
	case SourceCached:
		return "cached"
	default:
		return "empty"
	}
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type LoadResult[T any] struct {
	Value    T
	Source   Source
	Attempts int
}

func (r LoadResult[T]) Stale() bool {
	return r.Source != SourceFresh
}
