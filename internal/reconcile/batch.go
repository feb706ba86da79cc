package reconcile

import "iter"

// batches yields [lo, hi) bounds covering n items in chunks of size.
func batches(n, size int) iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		for lo := 0; lo < n; lo += size {
			if !yield(lo, min(lo+size, n)) {
				return
			}
		}
	}
}
