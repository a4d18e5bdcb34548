package pipeline

import (
	"context"
	"iter"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/source"
)

// --- Persister Mock ---

type mockPersister struct {
	mock.Mock
}

func (m *mockPersister) SaveRun(ctx context.Context, stats *model.RunStats, records []model.CandidateRecord) error {
	args := m.Called(ctx, stats, records)
	return args.Error(0)
}

// --- WebsiteFinder Mock ---

type mockFinder struct {
	mock.Mock
}

func (m *mockFinder) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *mockFinder) FindWebsite(ctx context.Context, name, city, state string) (string, error) {
	args := m.Called(ctx, name, city, state)
	return args.String(0), args.Error(1)
}

// --- Source Fake ---

type fakeSource struct {
	kind      model.SourceKind
	disabled  bool
	results   []source.Result
	searchErr error

	mu      sync.Mutex
	queries []source.Query
	yielded int
}

func (f *fakeSource) Kind() model.SourceKind { return f.kind }
func (f *fakeSource) Priority() int          { return f.kind.Priority() }
func (f *fakeSource) Enabled() bool          { return !f.disabled }

func (f *fakeSource) Fetch(context.Context, string) source.Result {
	if len(f.results) == 0 {
		return source.Result{Kind: f.kind}
	}
	return f.results[0]
}

func (f *fakeSource) Search(_ context.Context, q source.Query) (iter.Seq[source.Result], error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return func(yield func(source.Result) bool) {
		for _, r := range f.results {
			f.mu.Lock()
			f.yielded++
			f.mu.Unlock()
			if !yield(r) {
				return
			}
		}
	}, nil
}

func (f *fakeSource) Yielded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.yielded
}
