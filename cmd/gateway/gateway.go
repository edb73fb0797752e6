package main

import (
	"context"

	"github.com/dev-anmol/iec-gateway/internal/adapter"
	"github.com/dev-anmol/iec-gateway/internal/config"
	"github.com/dev-anmol/iec-gateway/internal/iec104"
	"github.com/dev-anmol/iec-gateway/internal/mapping"
	"github.com/dev-anmol/iec-gateway/internal/monitor"
	"github.com/dev-anmol/iec-gateway/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// startGateway wires the lifecycle: store first, then the 104 server, then
// the field-side ingress. Shutdown runs in reverse.
func startGateway(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	table *mapping.Table,
	st *store.Store,
	server *iec104.Server,
) error {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			st.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			st.Shutdown()
			return nil
		},
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting iec104 server",
				zap.String("addr", cfg.IEC104.ListenAddress()))
			return server.Start()
		},
		OnStop: func(ctx context.Context) error {
			return server.Stop()
		},
	})

	if cfg.Modbus.Enabled {
		poller := adapter.NewModbusPoller(cfg.Modbus, table, st, logger)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return poller.Start()
			},
			OnStop: func(ctx context.Context) error {
				poller.Stop()
				return nil
			},
		})
	} else {
		logger.Info("modbus ingress disabled")
	}

	if cfg.Monitor.Enabled {
		mon := monitor.NewStalenessMonitor(st, logger, cfg.Monitor.Interval, cfg.Monitor.MaxAge)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				mon.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				mon.Stop()
				return nil
			},
		})
	}

	return nil
}

// ProvideMappingTable loads the mapping file when configured, otherwise
// the compiled-in defaults. The configured common address is the default
// CA for entries that name none.
func ProvideMappingTable(cfg *config.Config, logger *zap.Logger) (*mapping.Table, error) {
	ca := uint16(cfg.IEC104.CommonAddress)
	if cfg.MappingFile != "" {
		table, err := mapping.Load(cfg.MappingFile, ca)
		if err != nil {
			return nil, err
		}
		logger.Info("mapping table loaded",
			zap.String("file", cfg.MappingFile),
			zap.Int("channels", table.Size()),
		)
		return table, nil
	}
	table := mapping.Default(ca)
	logger.Info("using default mapping table", zap.Int("channels", table.Size()))
	return table, nil
}

// ProvideStore creates the single process-wide point store.
func ProvideStore(cfg *config.Config, logger *zap.Logger) *store.Store {
	return store.New(cfg.Store, logger)
}

// ProvideIec104Server creates the SCADA-facing server.
func ProvideIec104Server(cfg *config.Config, st *store.Store, logger *zap.Logger) *iec104.Server {
	return iec104.NewServer(cfg.IEC104, st, logger)
}
