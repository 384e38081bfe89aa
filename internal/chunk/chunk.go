// Package chunk splits ordered work into store-sized groups.
package chunk

// Split divides items into consecutive groups of at most size elements.
// Order is preserved within and across groups. A size below 1 is treated as 1.
// An empty input yields no groups.
func Split[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	if len(items) == 0 {
		return nil
	}
	groups := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		groups = append(groups, items[start:end:end])
	}
	return groups
}
