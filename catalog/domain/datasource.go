package domain

// DataSource tells which tier answered the most recent query.
type DataSource int

const (
	SourceRemote DataSource = iota
	SourceLocal
	SourceMemoryCache
)

func (s DataSource) String() string {
	switch s {
	case SourceRemote:
		return "Remote API"
	case SourceLocal:
		return "Local Database"
	case SourceMemoryCache:
		return "Memory Cache"
	default:
		return "Unknown"
	}
}

// Token is the short machine-readable form used in API payloads.
func (s DataSource) Token() string {
	switch s {
	case SourceRemote:
		return "remote"
	case SourceLocal:
		return "local"
	case SourceMemoryCache:
		return "cache"
	default:
		return "unknown"
	}
}
