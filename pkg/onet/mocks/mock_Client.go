// Package mocks provides test doubles for the onet client.
package mocks

import (
	"context"

	onet "github.com/dubedad/jobforge/pkg/onet"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Records provides a mock function with given fields: ctx, code, category
func (_m *MockClient) Records(ctx context.Context, code string, category string) ([]onet.Record, error) {
	ret := _m.Called(ctx, code, category)

	if len(ret) == 0 {
		panic("no return value specified for Records")
	}

	var r0 []onet.Record
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) ([]onet.Record, error)); ok {
		return rf(ctx, code, category)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string) []onet.Record); ok {
		r0 = rf(ctx, code, category)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]onet.Record)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string) error); ok {
		r1 = rf(ctx, code, category)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient and registers cleanup
// that asserts the mock's expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
