package fn

// Map applies f to every element, preserving order.
func Map[T, U any](items []T, f func(T) U) []U {
	out := make([]U, len(items))
	for i, item := range items {
		out[i] = f(item)
	}
	return out
}

// FilterMap transforms and filters in one pass: the bool decides whether
// the mapped value makes it into the output.
func FilterMap[T, U any](items []T, f func(T) (U, bool)) []U {
	var out []U
	for _, item := range items {
		if mapped, keep := f(item); keep {
			out = append(out, mapped)
		}
	}
	return out
}

// Filter keeps the elements keep reports true for.
func Filter[T any](items []T, keep func(T) bool) []T {
	return FilterMap(items, func(item T) (T, bool) { return item, keep(item) })
}

// UniqueBy drops elements whose key was already seen, keeping first
// occurrences in input order.
func UniqueBy[T any, K comparable](items []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(items))
	return Filter(items, func(item T) bool {
		k := key(item)
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
		return true
	})
}
