package daemon

import (
	"context"
	"os"

	"github.com/feiramob/chatcore/internal/badge"
	"github.com/feiramob/chatcore/internal/bus"
	"github.com/feiramob/chatcore/internal/call"
	"github.com/feiramob/chatcore/internal/client"
	"github.com/feiramob/chatcore/internal/config"
	"github.com/feiramob/chatcore/internal/lock"
	"github.com/feiramob/chatcore/internal/logging"
	"github.com/feiramob/chatcore/internal/outbox"
	"github.com/feiramob/chatcore/internal/rest"
	"github.com/feiramob/chatcore/internal/status"
	"github.com/feiramob/chatcore/internal/store"
	chatsync "github.com/feiramob/chatcore/internal/sync"
	"github.com/feiramob/chatcore/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config     *config.Config
	ListenAddr string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideTokens,
			provideRESTClient,
			provideLoader,
			provideStore,
			provideQueue,
			provideBadges,
			provideSession,
			provideCallMachine,
			provideClient,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	profile := p.Config.Profile
	return logging.New(config.LogPath(profile), profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	profile := p.Config.Profile
	if err := config.EnsureProfileDir(profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", profile))
	l, err := lock.Acquire(config.ProfileDir(profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideTokens() rest.TokenProvider {
	return rest.StaticToken(os.Getenv(config.TokenEnv))
}

func provideRESTClient(p Params, tokens rest.TokenProvider) *rest.Client {
	return rest.NewClient(p.Config.APIBaseURL, tokens)
}

func provideLoader(r *rest.Client, logger *zap.Logger) *chatsync.Loader {
	return chatsync.NewLoader(r, logger)
}

func provideStore(b *bus.Bus, logger *zap.Logger) *store.Store {
	return store.New(b, logger)
}

func provideQueue(logger *zap.Logger) *outbox.Queue {
	return outbox.New(logger)
}

func provideBadges(b *bus.Bus) *badge.Counters {
	return badge.New(b)
}

func provideSession(p Params, tokens rest.TokenProvider, machine *status.Machine, logger *zap.Logger) *transport.Session {
	return transport.NewSession(p.Config.APIBaseURL, tokens, machine, logger)
}

func provideCallMachine(session *transport.Session, b *bus.Bus, logger *zap.Logger) *call.Machine {
	return call.NewMachine(session, b, logger)
}

func provideClient(
	session *transport.Session,
	queue *outbox.Queue,
	st *store.Store,
	calls *call.Machine,
	loader *chatsync.Loader,
	badges *badge.Counters,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *client.Client {
	return client.New(session, queue, st, calls, loader, badges, machine, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, c *client.Client, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Serve the local HTTP API in the background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			// Open the chat socket; failures here are retried by the
			// session's own reconnect loop.
			go func() {
				if err := c.Connect(); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Close()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
