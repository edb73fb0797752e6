// Package iec104 contains the SCADA-facing side of the gateway: the ASDU
// builder that turns canonical points into wire frames and the TCP server
// that serves interrogation and spontaneous transmission to 104 masters.
// APCI framing, k/w windowing and the t1/t2/t3 timers belong to the
// transport library underneath.
package iec104

import (
	"errors"
	"fmt"
	"time"

	"github.com/riclolsen/go-iecp5/asdu"
	"go.uber.org/zap"

	"github.com/dev-anmol/iec-gateway/internal/point"
)

// ErrNilPoint is returned when the builder receives no point.
var ErrNilPoint = errors.New("nil point")

const (
	scaledMin = -32768
	scaledMax = 32767
)

// Builder encodes a Point into a single-object ASDU for a chosen cause of
// transmission. Every frame carries exactly one information object, the SQ
// bit clear, test and negative bits clear, and originator 0.
type Builder struct {
	logger *zap.Logger
	params *asdu.Params
}

// NewBuilder returns a builder using the wide addressing parameters
// (2-byte cause with originator, 2-byte common address, 3-byte IOA).
func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{
		logger: logger,
		params: asdu.ParamsWide,
	}
}

// Params exposes the addressing parameters in use.
func (b *Builder) Params() *asdu.Params { return b.params }

// Build encodes p for the given cause. On failure it logs and returns a
// nil ASDU; the caller skips the point. An unknown or unset point type
// falls back to M_ME_NC_1.
func (b *Builder) Build(p *point.Point, cause asdu.Cause) (*asdu.ASDU, error) {
	if p == nil {
		b.logger.Error("cannot build asdu from nil point")
		return nil, ErrNilPoint
	}

	var (
		u   *asdu.ASDU
		err error
	)
	switch p.Type {
	case asdu.M_SP_NA_1:
		u, err = b.singlePoint(p, cause, false)
	case asdu.M_SP_TB_1:
		u, err = b.singlePoint(p, cause, true)
	case asdu.M_ME_NB_1:
		u, err = b.scaledValue(p, cause)
	case asdu.M_ME_TF_1:
		u, err = b.shortFloat(p, cause, true)
	case asdu.M_ME_NC_1:
		u, err = b.shortFloat(p, cause, false)
	default:
		b.logger.Debug("unknown point type, encoding as short float",
			zap.Uint32("ioa", p.IOA),
			zap.Uint8("type", uint8(p.Type)),
		)
		u, err = b.shortFloat(p, cause, false)
	}
	if err != nil {
		b.logger.Error("failed to build asdu",
			zap.Uint32("ioa", p.IOA),
			zap.Error(err),
		)
		return nil, err
	}
	return u, nil
}

func (b *Builder) newASDU(p *point.Point, typ asdu.TypeID, cause asdu.Cause) (*asdu.ASDU, error) {
	u := asdu.NewASDU(b.params, asdu.Identifier{
		Type:       typ,
		Coa:        asdu.CauseOfTransmission{Cause: cause},
		OrigAddr:   0,
		CommonAddr: asdu.CommonAddr(p.CommonAddress),
	})
	if err := u.SetVariableNumber(1); err != nil {
		return nil, err
	}
	if err := u.AppendInfoObjAddr(asdu.InfoObjAddr(p.IOA)); err != nil {
		return nil, fmt.Errorf("ioa %d: %w", p.IOA, err)
	}
	return u, nil
}

// singlePoint encodes M_SP_NA_1 / M_SP_TB_1. The SIQ octet carries the SPI
// bit plus the quality bits; only IV is ever set by this gateway.
func (b *Builder) singlePoint(p *point.Point, cause asdu.Cause, withTime bool) (*asdu.ASDU, error) {
	typ := asdu.M_SP_NA_1
	if withTime {
		typ = asdu.M_SP_TB_1
	}
	u, err := b.newASDU(p, typ, cause)
	if err != nil {
		return nil, err
	}

	siq := byte(0)
	if p.Value().Truthy() {
		siq |= 0x01
	}
	if !p.Valid {
		siq |= byte(asdu.QDSInvalid)
	}
	u.AppendBytes(siq)

	if withTime {
		u.AppendCP56Time2a(b.eventTime(p), b.params.InfoObjTimeZone)
	}
	return u, nil
}

// shortFloat encodes M_ME_NC_1 / M_ME_TF_1. Non-numeric payloads encode
// as 0.0.
func (b *Builder) shortFloat(p *point.Point, cause asdu.Cause, withTime bool) (*asdu.ASDU, error) {
	typ := asdu.M_ME_NC_1
	if withTime {
		typ = asdu.M_ME_TF_1
	}
	u, err := b.newASDU(p, typ, cause)
	if err != nil {
		return nil, err
	}

	var value float32
	if f, ferr := p.Value().AsFloat(); ferr == nil {
		value = float32(f)
	}
	u.AppendFloat32(value)
	u.AppendBytes(byte(b.quality(p)))

	if withTime {
		u.AppendCP56Time2a(b.eventTime(p), b.params.InfoObjTimeZone)
	}
	return u, nil
}

// scaledValue encodes M_ME_NB_1. The payload is coerced to an integer and
// silently clamped to the INT16 range; non-numeric payloads encode as 0.
func (b *Builder) scaledValue(p *point.Point, cause asdu.Cause) (*asdu.ASDU, error) {
	u, err := b.newASDU(p, asdu.M_ME_NB_1, cause)
	if err != nil {
		return nil, err
	}

	var value int64
	if n, nerr := p.Value().AsLong(); nerr == nil {
		value = n
	}
	if value > scaledMax {
		value = scaledMax
	} else if value < scaledMin {
		value = scaledMin
	}
	u.AppendScaled(int16(value))
	u.AppendBytes(byte(b.quality(p)))
	return u, nil
}

// quality builds the QDS octet: all bits clear except IV when the point is
// invalid. The gateway has no source for OV/BL/SB/NT.
func (b *Builder) quality(p *point.Point) asdu.QualityDescriptor {
	q := asdu.QDSGood
	if !p.Valid {
		q |= asdu.QDSInvalid
	}
	return q
}

// eventTime returns the source event time, or gateway time when the point
// carries none.
func (b *Builder) eventTime(p *point.Point) time.Time {
	if p.Timestamp > 0 {
		return time.UnixMilli(p.Timestamp).UTC()
	}
	return time.Now().UTC()
}
