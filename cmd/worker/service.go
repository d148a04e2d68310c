package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

const readinessTimeout = 15 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger               *logger.Logger
	DB                   pinger
	Redis                pinger
	PubSub               pinger
	NotificationConsumer consumer
}

// Service checks its dependencies once and then runs the notification
// consumer until ctx ends.
type Service struct {
	logg     *logger.Logger
	deps     map[string]pinger
	consumer consumer
}

func NewService(params ServiceParams) (*Service, error) {
	deps := map[string]pinger{
		"database": params.DB,
		"redis":    params.Redis,
		"pubsub":   params.PubSub,
	}
	var errs []error
	if params.Logger == nil {
		errs = append(errs, errors.New("logger is required"))
	}
	for name, p := range deps {
		if p == nil {
			errs = append(errs, fmt.Errorf("%s client is required", name))
		}
	}
	if params.NotificationConsumer == nil {
		errs = append(errs, errors.New("notification consumer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Service{logg: params.Logger, deps: deps, consumer: params.NotificationConsumer}, nil
}

// ready pings every dependency concurrently and returns the first failure.
func (s *Service) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for name, p := range s.deps {
		g.Go(func() error {
			if err := p.Ping(gctx); err != nil {
				return fmt.Errorf("%s ping failed: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		s.logg.Error(ctx, "worker dependencies not ready", err)
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return s.consumer.Run(ctx)
}
