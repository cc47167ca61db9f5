//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"perpbot/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, error) {
	wire.Build(
		provideAppBuilder,
		provideAppFromBuilder,
	)
	return &App{}, nil
}
