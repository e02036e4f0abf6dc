package changefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/angelmondragon/orderdesk/pkg/config"
	"github.com/angelmondragon/orderdesk/pkg/logger"
)

// Channel is the NOTIFY channel the orders row trigger writes to. It is fixed
// in the migration, so it is not configurable.
const Channel = "order_changes"

// PQSource LISTENs on the orders change channel through lib/pq.
type PQSource struct {
	dsn          string
	channel      string
	minReconnect time.Duration
	maxReconnect time.Duration
	keepAlive    time.Duration
	logg         *logger.Logger
}

// NewPQSource builds a source from the DB DSN and change feed settings.
func NewPQSource(dsn string, cfg config.ChangeFeedConfig, logg *logger.Logger) (*PQSource, error) {
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	src := &PQSource{
		dsn:          dsn,
		channel:      Channel,
		minReconnect: cfg.MinReconnectInterval,
		maxReconnect: cfg.MaxReconnectInterval,
		keepAlive:    cfg.KeepAlive,
		logg:         logg,
	}
	if src.minReconnect <= 0 {
		src.minReconnect = time.Second
	}
	if src.maxReconnect < src.minReconnect {
		src.maxReconnect = time.Minute
	}
	if src.keepAlive <= 0 {
		src.keepAlive = 90 * time.Second
	}
	return src, nil
}

// Run blocks until ctx is done. A nil notification from the listener means
// the connection was re-established and notifications may have been lost.
func (s *PQSource) Run(ctx context.Context, emit func(Change), resync func()) error {
	listener := pq.NewListener(s.dsn, s.minReconnect, s.maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			s.logg.Error(ctx, "order change listener connection problem", err)
		case pq.ListenerEventReconnected:
			s.logg.Info(ctx, "order change listener reconnected")
		}
	})
	defer listener.Close()

	if err := listener.Listen(s.channel); err != nil {
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}
	s.logg.Info(s.logg.WithField(ctx, "channel", s.channel), "listening for order changes")

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				resync()
				continue
			}
			change, err := DecodeChange([]byte(n.Extra))
			if errors.Is(err, ErrChangeOmitted) {
				s.logg.Warn(ctx, "order change exceeded notify payload, forcing resync")
				resync()
				continue
			}
			if err != nil {
				s.logg.Error(ctx, "drop malformed order change", err)
				continue
			}
			emit(change)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					s.logg.Warn(ctx, "order change listener ping failed")
				}
			}()
		}
	}
}
