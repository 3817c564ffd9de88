package series

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// fanOut runs fn for every key state with at most maxConcurrent in flight and
// waits for all of them. An error or panic is recorded on the key's state.
// Keys that already failed are skipped.
func (s *Service) fanOut(ctx context.Context, stage string, states []*keyState, fn func(st *keyState) error) {
	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup

	for _, st := range states {
		if st.err != nil {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			st.fail(fmt.Errorf("%s: %w", stage, ctx.Err()))
			continue
		}

		wg.Add(1)
		go func(st *keyState) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().
						Str("stage", stage).
						Str("series", st.key.String()).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(debug.Stack())).
						Msg("Recovered from panic in sync worker")
					st.fail(fmt.Errorf("%s: panic: %v", stage, r))
				}
			}()
			if err := fn(st); err != nil {
				st.fail(err)
			}
		}(st)
	}

	wg.Wait()
}
