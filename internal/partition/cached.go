package partition

import "fmt"

// CachedPartitions is an indexable view over the partitions of one level
// that keeps at most maxCacheSize contiguous partitions resident. Reads
// outside the resident window refill it starting at the requested index.
// Forward-sequential access reuses a persistent iterator; random access
// backwards restarts the enumeration and may be slow.
type CachedPartitions struct {
	n            int
	count        int64
	maxCacheSize int

	windowStart int64
	window      [][]int

	it        *Iterator
	nextIndex int64
}

// NewCachedPartitions builds a cached view over the partitions of n.
func NewCachedPartitions(n, maxCacheSize int) (*CachedPartitions, error) {
	if maxCacheSize < 1 {
		return nil, fmt.Errorf("cache size %d must be positive", maxCacheSize)
	}
	count, err := Count(n)
	if err != nil {
		return nil, err
	}
	it, err := NewIterator(n)
	if err != nil {
		return nil, err
	}
	return &CachedPartitions{
		n:            n,
		count:        count,
		maxCacheSize: maxCacheSize,
		it:           it,
	}, nil
}

// Level returns the level n this cache enumerates.
func (c *CachedPartitions) Level() int { return c.n }

// Len returns the number of partitions of the level.
func (c *CachedPartitions) Len() int64 { return c.count }

// At returns the partition at index i. Out-of-range indices are errors.
func (c *CachedPartitions) At(i int64) ([]int, error) {
	if i < 0 || i >= c.count {
		return nil, fmt.Errorf("partition index %d out of range [0, %d)", i, c.count)
	}
	if i >= c.windowStart && i < c.windowStart+int64(len(c.window)) {
		return c.window[i-c.windowStart], nil
	}
	if err := c.refill(i); err != nil {
		return nil, err
	}
	return c.window[0], nil
}

// refill repopulates the window starting at index i.
func (c *CachedPartitions) refill(i int64) error {
	if i < c.nextIndex {
		it, err := NewIterator(c.n)
		if err != nil {
			return err
		}
		c.it = it
		c.nextIndex = 0
	}
	for c.nextIndex < i {
		if _, ok := c.it.Next(); !ok {
			return fmt.Errorf("partition iterator for n=%d exhausted at index %d", c.n, c.nextIndex)
		}
		c.nextIndex++
	}

	size := int64(c.maxCacheSize)
	if remaining := c.count - i; remaining < size {
		size = remaining
	}
	window := make([][]int, 0, size)
	for int64(len(window)) < size {
		p, ok := c.it.Next()
		if !ok {
			return fmt.Errorf("partition iterator for n=%d exhausted at index %d", c.n, c.nextIndex)
		}
		window = append(window, p)
		c.nextIndex++
	}
	c.windowStart = i
	c.window = window
	return nil
}
