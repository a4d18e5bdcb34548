// Package mocks provides test doubles for the google clients.
package mocks

import (
	"context"

	google "github.com/sells-group/provider-scraper/pkg/google"
	mock "github.com/stretchr/testify/mock"
)

// MockSearchClient is a mock type for the SearchClient interface.
type MockSearchClient struct {
	mock.Mock
}

// Search provides a mock function with given fields: ctx, query, num
func (_m *MockSearchClient) Search(ctx context.Context, query string, num int) (*google.CustomSearchResponse, error) {
	ret := _m.Called(ctx, query, num)

	if len(ret) == 0 {
		panic("no return value specified for Search")
	}

	var r0 *google.CustomSearchResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, int) (*google.CustomSearchResponse, error)); ok {
		return rf(ctx, query, num)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, int) *google.CustomSearchResponse); ok {
		r0 = rf(ctx, query, num)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*google.CustomSearchResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, int) error); ok {
		r1 = rf(ctx, query, num)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockSearchClient creates a new instance of MockSearchClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockSearchClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSearchClient {
	m := &MockSearchClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
