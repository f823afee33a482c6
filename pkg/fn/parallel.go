package fn

import "sync"

// ParMapResult applies f to every item with at most workers goroutines
// and returns the per-item Results in input order. workers <= 0 runs one
// goroutine per item.
func ParMapResult[T, U any](items []T, workers int, f func(T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	// Workers pull indexes off a shared feed; each slot is written by
	// exactly one goroutine.
	feed := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for n := 0; n < workers; n++ {
		go func() {
			defer wg.Done()
			for i := range feed {
				out[i] = f(items[i])
			}
		}()
	}
	for i := range items {
		feed <- i
	}
	close(feed)
	wg.Wait()
	return out
}

// FanOut runs the functions concurrently and returns their results in
// argument order.
func FanOut[T any](fns ...func() T) []T {
	out := make([]T, len(fns))
	var wg sync.WaitGroup
	wg.Add(len(fns))
	for i, f := range fns {
		go func(i int, f func() T) {
			defer wg.Done()
			out[i] = f()
		}(i, f)
	}
	wg.Wait()
	return out
}
