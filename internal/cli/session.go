package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/ragone/internal/auth"
	"github.com/raphaelgruber/ragone/internal/client"
	"github.com/raphaelgruber/ragone/internal/config"
	"github.com/raphaelgruber/ragone/internal/credential"
	"github.com/raphaelgruber/ragone/internal/events"
	"github.com/raphaelgruber/ragone/internal/metrics"
	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/route"
)

// session holds the components shared by every command of one run.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	store  *credential.SQLiteStore
	bus    *events.Bus
	client *client.Client
	gate   *auth.Gate
	nav    *route.Navigator

	// user is the account the command was admitted for. Later gate state
	// changes do not affect it.
	user *models.User

	closeLog func() error
}

// openSession wires the stack and rehydrates the stored credential. path is
// the screen the command represents.
func openSession(ctx context.Context, cfg config.Config, logger *slog.Logger, path string) (*session, error) {
	store, err := credential.NewSQLite(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	bus := events.NewBus(logger)
	c := client.New(client.Options{
		BaseURL:       cfg.APIURL,
		Timeout:       cfg.ClientTimeout,
		SlowThreshold: cfg.SlowRequest,
		Tokens:        store,
		Events:        bus,
		Logger:        logger,
		Metrics:       metrics.NewCollector(),
	})
	nav := route.NewNavigator(path)
	nav.OnChange(func(p string) {
		logger.Debug("screen changed", "path", p)
	})

	gate, err := auth.New(auth.Options{
		Store:          store,
		Backend:        c,
		Expiry:         bus,
		Navigator:      nav,
		Logger:         logger,
		ConfirmTimeout: cfg.ClientTimeout,
	})
	if err != nil {
		_ = bus.Close()
		_ = store.Close()
		return nil, err
	}
	gate.Init(ctx)

	logger.Debug("session opened", "api", c.BaseURL(), "state", store.Path(), "status", gate.State().Status)
	return &session{
		cfg:    cfg,
		logger: logger,
		store:  store,
		bus:    bus,
		client: c,
		gate:   gate,
		nav:    nav,
	}, nil
}

// admit records the signed-in user from st for the running command.
func (s *session) admit(st models.AuthState) error {
	if !st.Authenticated() {
		return errNotSignedIn
	}
	s.user = st.User
	return nil
}

// currentUser returns the user the command was admitted for.
func (s *session) currentUser() (*models.User, error) {
	if s.user == nil {
		return nil, errNotSignedIn
	}
	return s.user, nil
}

// Close stops background work and releases the store.
func (s *session) Close() error {
	s.gate.Close()
	err := errors.Join(s.bus.Close(), s.store.Close())
	if s.closeLog != nil {
		err = errors.Join(err, s.closeLog())
	}
	return err
}
