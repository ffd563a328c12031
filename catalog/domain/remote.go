package domain

import "context"

// QueryKind selects which remote listing to ask for.
type QueryKind int

const (
	QueryAll QueryKind = iota
	QueryByName
	QueryByLevel
)

// Query describes a single remote lookup.
type Query struct {
	Kind  QueryKind
	Value string
}

func AllItems() Query               { return Query{Kind: QueryAll} }
func ItemsByName(name string) Query { return Query{Kind: QueryByName, Value: name} }
func ItemsByLevel(lvl string) Query { return Query{Kind: QueryByLevel, Value: lvl} }

// ItemFetcher retrieves items from the remote API.
type ItemFetcher interface {
	Fetch(ctx context.Context, q Query) ([]Item, error)
}
