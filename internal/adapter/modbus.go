// Package adapter contains the field-side ingress: handlers that turn
// protocol-native samples into canonical points and hand them to the
// store. All scaling happens here, never in the core.
package adapter

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
	"github.com/riclolsen/go-iecp5/asdu"
	"go.uber.org/zap"

	"github.com/dev-anmol/iec-gateway/internal/config"
	"github.com/dev-anmol/iec-gateway/internal/mapping"
	"github.com/dev-anmol/iec-gateway/internal/point"
	"github.com/dev-anmol/iec-gateway/internal/store"
)

// ModbusPoller polls the mapped holding registers of one Modbus TCP device
// on a fixed interval, applies the mapping's scaling and publishes the
// results to the store.
type ModbusPoller struct {
	cfg    config.ModbusConfig
	table  *mapping.Table
	store  *store.Store
	logger *zap.Logger

	handler *modbus.TCPClientHandler
	client  modbus.Client

	stop chan struct{}
	done chan struct{}
}

// NewModbusPoller builds a stopped poller.
func NewModbusPoller(cfg config.ModbusConfig, table *mapping.Table, st *store.Store, logger *zap.Logger) *ModbusPoller {
	handler := modbus.NewTCPClientHandler(cfg.Address)
	handler.Timeout = cfg.Timeout
	handler.SlaveId = byte(cfg.SlaveID)

	return &ModbusPoller{
		cfg:     cfg,
		table:   table,
		store:   st,
		logger:  logger,
		handler: handler,
		client:  modbus.NewClient(handler),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start connects to the device and launches the poll loop.
func (m *ModbusPoller) Start() error {
	channels := m.table.ModbusChannels()
	if len(channels) == 0 {
		m.logger.Warn("no modbus channels mapped, poller idle")
	}

	if err := m.handler.Connect(); err != nil {
		return fmt.Errorf("modbus connect %s: %w", m.cfg.Address, err)
	}

	m.logger.Info("modbus poller started",
		zap.String("address", m.cfg.Address),
		zap.Int("channels", len(channels)),
		zap.Duration("interval", m.cfg.PollInterval),
	)

	go m.loop(channels)
	return nil
}

// Stop ends the poll loop and closes the connection.
func (m *ModbusPoller) Stop() {
	close(m.stop)
	<-m.done
	if err := m.handler.Close(); err != nil {
		m.logger.Error("error closing modbus connection", zap.Error(err))
	}
	m.logger.Info("modbus poller stopped")
}

func (m *ModbusPoller) loop(channels []string) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.pollOnce(channels)
		}
	}
}

func (m *ModbusPoller) pollOnce(channels []string) {
	ok, failed := 0, 0
	for _, channelID := range channels {
		mp, found := m.table.Modbus(channelID)
		if !found {
			continue
		}
		if err := m.pollChannel(channelID, mp); err != nil {
			m.logger.Warn("poll failed",
				zap.String("channel", channelID),
				zap.Error(err),
			)
			failed++
			continue
		}
		ok++
	}
	m.logger.Debug("poll cycle complete", zap.Int("ok", ok), zap.Int("failed", failed))
}

func (m *ModbusPoller) pollChannel(channelID string, mp mapping.Mapping) error {
	results, err := m.client.ReadHoldingRegisters(mp.Register, 1)
	if err != nil {
		return fmt.Errorf("read register %d: %w", mp.Register, err)
	}
	if len(results) < 2 {
		return fmt.Errorf("short read for register %d: %d bytes", mp.Register, len(results))
	}

	raw := int16(binary.BigEndian.Uint16(results))
	p := m.buildPoint(channelID, mp, float64(raw))
	m.store.Update(p)

	m.logger.Debug("modbus sample",
		zap.String("channel", channelID),
		zap.Uint32("ioa", mp.IOA),
		zap.Int16("raw", raw),
	)
	return nil
}

// buildPoint applies scaled = raw*factor + offset and wraps the result in
// a canonical point. Modbus carries no source timestamps, so the sample
// time is the gateway clock.
func (m *ModbusPoller) buildPoint(channelID string, mp mapping.Mapping, raw float64) *point.Point {
	scaled := raw*mp.ScalingFactor + mp.Offset

	var v point.Value
	switch mp.Type {
	case asdu.M_SP_NA_1, asdu.M_SP_TB_1:
		v = point.Bool(scaled != 0)
	default:
		v = point.F64(scaled)
	}

	p := point.New(mp.IOA, mp.CommonAddress, mp.Type, v, time.Now().UnixMilli(), true)
	p.ID = channelID
	p.SourceProtocol = "MODBUS_TCP"
	p.SourceAddress = fmt.Sprintf("HOLDING:%d", mp.Register)
	p.Description = mp.Description
	return p
}
