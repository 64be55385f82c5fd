package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/temcen/carmatch/pkg/models"
)

type MockTextGenerator struct {
	mock.Mock
}

func (m *MockTextGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// generatorFunc adapts a function to TextGenerator.
type generatorFunc func(ctx context.Context, prompt string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishRecommendations(ctx context.Context, result *models.RecommendationResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}
