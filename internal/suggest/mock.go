package suggest

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, transcript, localUser string) (*Result, error) {
	args := m.Called(ctx, transcript, localUser)
	if r, ok := args.Get(0).(*Result); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
