package dex

// IndexRange is an inclusive range of factory pool indexes.
type IndexRange struct {
	From uint64
	To   uint64
}

// Len returns the number of indexes in r.
func (r IndexRange) Len() uint64 {
	return r.To - r.From + 1
}

// PoolBatches covers the factory indexes [0, count) with ranges of at most
// batchSize indexes. A zero batchSize yields a single range.
func PoolBatches(count, batchSize uint64) []IndexRange {
	if count == 0 {
		return nil
	}
	if batchSize == 0 || batchSize > count {
		batchSize = count
	}

	batches := make([]IndexRange, 0, (count+batchSize-1)/batchSize)
	for start := uint64(0); start < count; start += batchSize {
		end := start + batchSize - 1
		if end >= count {
			end = count - 1
		}
		batches = append(batches, IndexRange{From: start, To: end})
	}
	return batches
}
