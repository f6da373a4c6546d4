package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/romashorodok/conferencing-platform/internal/config"
	"github.com/romashorodok/conferencing-platform/internal/gateway"
	"github.com/romashorodok/conferencing-platform/internal/media"
	"github.com/romashorodok/conferencing-platform/internal/miccontrol"
	"github.com/romashorodok/conferencing-platform/internal/transport"
	"github.com/romashorodok/conferencing-platform/pkg/service"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

const dialTimeout = 10 * time.Second

func newConfig() (config.Client, error) {
	return config.LoadClient(os.Args[1:])
}

func newLogger(cfg config.Client) *slog.Logger {
	return service.NewLogger(os.Stderr, cfg.LogLevel)
}

func newGateway(cfg config.Client, logger *slog.Logger) (*gateway.Client, error) {
	cookies, err := cfg.HTTPCookies()
	if err != nil {
		return nil, err
	}
	return gateway.New(gateway.Config{
		BaseURL:     cfg.ServerURL,
		BearerToken: cfg.AdminToken,
		Cookies:     cookies,
		Timeout:     cfg.HTTPTimeout,
		Logger:      logger,
	})
}

type newReplica_Params struct {
	fx.In
	Lifecycle fx.Lifecycle

	Config config.Client
	Logger *slog.Logger
}

func newReplica(params newReplica_Params) (*transport.Replica, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	replica, err := transport.Dial(ctx, transport.DialParams{
		BaseURL:  params.Config.ServerURL,
		Room:     params.Config.Room,
		Identity: params.Config.Identity,
		Name:     params.Config.Name,
		Role:     params.Config.ParsedRole(),
		Header:   params.Config.Header(),
		Logger:   params.Logger,
	})
	if err != nil {
		return nil, err
	}

	params.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return replica.Close()
		},
	})
	return replica, nil
}

func newPublisher(cfg config.Client, replica *transport.Replica, logger *slog.Logger) (media.Publisher, error) {
	if !cfg.Publish {
		return &media.NopPublisher{}, nil
	}
	return media.NewAudioPublisher(media.NewAudioPublisherParams{
		StreamID: replica.LocalIdentity(),
		Logger:   logger,
	})
}

type newEngine_Params struct {
	fx.In

	Config    config.Client
	Replica   *transport.Replica
	Gateway   *gateway.Client
	Publisher media.Publisher
	Logger    *slog.Logger
}

func newEngine(params newEngine_Params) *miccontrol.Engine {
	return miccontrol.NewEngine(miccontrol.NewEngineParams{
		Room:               params.Replica,
		Gateway:            params.Gateway,
		Publisher:          params.Publisher,
		Logger:             params.Logger,
		PollInterval:       params.Config.PollInterval,
		SettleDelay:        params.Config.SettleDelay,
		RoomInfoInterval:   params.Config.RoomInfoInterval,
		RepairTimeout:      params.Config.HTTPTimeout,
		DefaultMaxMicSlots: params.Config.DefaultMaxMicSlots,
	})
}

type run_Params struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner

	Engine  *miccontrol.Engine
	Replica *transport.Replica
	Logger  *slog.Logger
}

// run serves the engine and the replica, prints notices and reads commands
// from stdin. The app shuts down when the connection drops or stdin closes.
func run(params run_Params) {
	ctx, cancel := context.WithCancel(context.Background())
	wg, ctx := errgroup.WithContext(ctx)

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Go(func() error {
				err := params.Replica.Run(ctx)
				cancel()
				return err
			})
			wg.Go(func() error {
				return params.Engine.Run(ctx)
			})
			wg.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case notice := <-params.Engine.Notices():
						fmt.Println(notice)
					}
				}
			})

			go func() {
				err := wg.Wait()
				if err != nil && !errors.Is(err, context.Canceled) {
					params.Logger.Error("mic client stopped", slog.String("err", err.Error()))
				}
				_ = params.Shutdowner.Shutdown()
			}()

			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					if err := execute(ctx, params.Engine, scanner.Text(), os.Stdout); reportable(err) {
						fmt.Printf("[error] %s\n", err)
					}
				}
				cancel()
			}()

			fmt.Printf("joined %s as %s, type help for commands\n", params.Replica.Name(), params.Replica.LocalIdentity())
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func main() {
	fx.New(
		fx.NopLogger,
		fx.Provide(
			newConfig,
			newLogger,
			newGateway,
			newReplica,
			newPublisher,
			newEngine,
		),
		fx.Invoke(run),
	).Run()
}
