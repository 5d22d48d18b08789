package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tilecast/internal/core/domain"
)

type MockLayoutRepository struct {
	mock.Mock
}

func (m *MockLayoutRepository) Append(ctx context.Context, record *domain.LayoutRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockLayoutRepository) Latest(ctx context.Context, sessionID domain.SessionID) (*domain.LayoutRecord, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LayoutRecord), args.Error(1)
}

func (m *MockLayoutRepository) History(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.LayoutRecord, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.LayoutRecord), args.Error(1)
}

type MockLayoutEvents struct {
	mock.Mock
}

func (m *MockLayoutEvents) PublishLayoutCommitted(ctx context.Context, sessionID domain.SessionID, recordID string) error {
	args := m.Called(ctx, sessionID, recordID)
	return args.Error(0)
}
