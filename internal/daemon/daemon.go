package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tutu-network/modelctl/internal/api"
	"github.com/tutu-network/modelctl/internal/app/transfer"
	"github.com/tutu-network/modelctl/internal/health"
	"github.com/tutu-network/modelctl/internal/infra/remote"
	"github.com/tutu-network/modelctl/internal/infra/sqlite"
	"github.com/tutu-network/modelctl/internal/infra/store"
	"github.com/tutu-network/modelctl/internal/logging"
)

// Daemon holds the long-lived pieces a command needs: the local store, the
// copy history and the configuration that builds endpoints.
type Daemon struct {
	Config Config
	Store  *store.Store
	DB     *sqlite.DB
	Health *health.Checker
	log    *logrus.Entry
}

// NewWithConfig opens the store at cfg.Models.Dir and the history database
// under home.
func NewWithConfig(cfg Config, home string) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st := store.New(cfg.Models.Dir)
	if err := st.Init(); err != nil {
		return nil, fmt.Errorf("init model store: %w", err)
	}

	db, err := sqlite.Open(home)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	return &Daemon{
		Config: cfg,
		Store:  st,
		DB:     db,
		log:    logging.WithComponent("daemon"),
	}, nil
}

// Endpoint resolves a locator: "local" is the local store, anything else a
// server address.
func (d *Daemon) Endpoint(locator string) (transfer.Endpoint, error) {
	if locator == "" || strings.EqualFold(locator, transfer.LocalLocator) {
		return transfer.LocalEndpoint(d.Store), nil
	}
	c, err := remote.New(locator, d.remoteOptions())
	if err != nil {
		return transfer.Endpoint{}, err
	}
	return transfer.RemoteEndpoint(c), nil
}

func (d *Daemon) remoteOptions() remote.Options {
	return remote.Options{
		Timeout:     d.Config.TransferTimeout(),
		MetaTimeout: d.Config.ProbeTimeout(),
	}
}

// Mirrors builds the configured registry mirrors in order.
func (d *Daemon) Mirrors() ([]*remote.Mirror, error) {
	out := make([]*remote.Mirror, 0, len(d.Config.Registry.Mirrors))
	for _, host := range d.Config.Registry.Mirrors {
		if d.Config.Registry.Insecure && !strings.Contains(host, "://") {
			host = "http://" + host
		}
		m, err := remote.NewMirror(host, d.remoteOptions())
		if err != nil {
			return nil, fmt.Errorf("registry mirror %q: %w", host, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// TransferConfig builds a copier configuration from the loaded settings.
// rateLimit overrides transfer.rate_limit when positive.
func (d *Daemon) TransferConfig(rateLimit int64) (transfer.Config, error) {
	relayBuffer, err := d.Config.RelayBufferBytes()
	if err != nil {
		return transfer.Config{}, err
	}
	if rateLimit <= 0 {
		if rateLimit, err = d.Config.RateLimitBytes(); err != nil {
			return transfer.Config{}, err
		}
	}
	mirrors, err := d.Mirrors()
	if err != nil {
		return transfer.Config{}, err
	}
	return transfer.Config{
		Engine: transfer.Options{
			RelayBuffer:      relayBuffer,
			RateLimit:        rateLimit,
			ProgressInterval: d.Config.ProgressInterval(),
			VerifyDigests:    d.Config.Transfer.VerifyDigests,
		},
		Mirrors: mirrors,
		History: d.DB,
		Log:     logging.WithComponent("transfer"),
	}, nil
}

// PruneHistory drops copies that started more than olderThan ago and
// returns how many went. A non-positive olderThan keeps everything.
func (d *Daemon) PruneHistory(olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	n, err := d.DB.Prune(time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	if n > 0 {
		d.log.WithFields(logrus.Fields{"removed": n, "older_than": olderThan}).Info("pruned copy history")
	}
	return n, nil
}

// Addr returns the serve address from the config.
func (d *Daemon) Addr() string {
	return net.JoinHostPort(d.Config.Server.Host, strconv.Itoa(d.Config.Server.Port))
}

// Handler returns the blob server's HTTP handler over the local store.
func (d *Daemon) Handler() http.Handler {
	srv := api.NewServer(d.Store, logging.WithComponent("api"))
	srv.SetVerifyDigests(d.Config.Transfer.VerifyDigests)
	if d.Config.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	if d.Health != nil {
		srv.SetHealth(d.Health)
	}
	return srv.Handler()
}

// Serve starts the blob server and blocks until ctx ends or a signal
// arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.Health = health.NewChecker(d.DB, d.Store, logging.WithComponent("health"))
	go d.Health.Run(ctx)

	addr := d.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		// No read/write timeouts: blob bodies run to many gigabytes.
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.log.WithFields(logrus.Fields{"addr": addr, "models": d.Store.Dir()}).Info("serving")
	fmt.Printf("modelctl serving %s on http://%s\n", d.Store.Dir(), addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
