package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Index type tags stored in the search_index_type column. Every serialized
// index is accompanied by one of these so deserialization is unambiguous.
const (
	ExhaustiveIndexName    = "ExhaustiveSearchIndex"
	SuperabundantIndexName = "SuperabundantEnumerationIndex"
)

// SearchIndex is a position in a search strategy's abstract index space.
// The two variants form a closed set; dispatch happens on IndexName at
// store and serde boundaries.
type SearchIndex interface {
	IndexName() string
	Serialize() string
}

// ExhaustiveSearchIndex is a position in the positive-integer sweep.
type ExhaustiveSearchIndex struct {
	N int64
}

func (e ExhaustiveSearchIndex) IndexName() string { return ExhaustiveIndexName }

func (e ExhaustiveSearchIndex) Serialize() string {
	return strconv.FormatInt(e.N, 10)
}

// SuperabundantEnumerationIndex is a position in the partition enumeration:
// the level L and the 0-based index within the partitions of L.
type SuperabundantEnumerationIndex struct {
	Level        int
	IndexInLevel int64
}

func (s SuperabundantEnumerationIndex) IndexName() string { return SuperabundantIndexName }

func (s SuperabundantEnumerationIndex) Serialize() string {
	return fmt.Sprintf("%d,%d", s.Level, s.IndexInLevel)
}

// DeserializeSearchIndex parses the canonical textual form of an index.
// The indexType tag selects the variant.
func DeserializeSearchIndex(indexType, serialized string) (SearchIndex, error) {
	switch indexType {
	case ExhaustiveIndexName:
		n, err := strconv.ParseInt(serialized, 10, 64)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("malformed exhaustive search index %q", serialized)
		}
		return ExhaustiveSearchIndex{N: n}, nil
	case SuperabundantIndexName:
		parts := strings.Split(serialized, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed superabundant search index %q", serialized)
		}
		level, err := strconv.Atoi(parts[0])
		if err != nil || level < 1 {
			return nil, fmt.Errorf("malformed superabundant search index %q", serialized)
		}
		indexInLevel, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || indexInLevel < 0 {
			return nil, fmt.Errorf("malformed superabundant search index %q", serialized)
		}
		return SuperabundantEnumerationIndex{Level: level, IndexInLevel: indexInLevel}, nil
	default:
		return nil, fmt.Errorf("unknown search index type %q", indexType)
	}
}
