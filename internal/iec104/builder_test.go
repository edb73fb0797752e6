package iec104_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/riclolsen/go-iecp5/asdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dev-anmol/iec-gateway/internal/iec104"
	"github.com/dev-anmol/iec-gateway/internal/point"
)

func marshal(t *testing.T, u *asdu.ASDU) []byte {
	t.Helper()
	raw, err := u.MarshalBinary()
	require.NoError(t, err)
	return raw
}

// header asserts the six identifier octets of a wide-parameter frame:
// type, VSQ, cause, originator, common address little endian.
func header(t *testing.T, raw []byte, typ asdu.TypeID, cause asdu.Cause, ca uint16) {
	t.Helper()
	require.GreaterOrEqual(t, len(raw), 9)
	assert.Equal(t, byte(typ), raw[0], "type identifier")
	assert.Equal(t, byte(0x01), raw[1], "vsq: one object, sq clear")
	assert.Equal(t, byte(cause), raw[2], "cause of transmission")
	assert.Equal(t, byte(0), raw[3], "originator address")
	assert.Equal(t, ca, binary.LittleEndian.Uint16(raw[4:6]), "common address")
}

func ioaOf(raw []byte) uint32 {
	return uint32(raw[6]) | uint32(raw[7])<<8 | uint32(raw[8])<<16
}

func TestBuildShortFloatFrame(t *testing.T) {
	b := iec104.NewBuilder(zap.NewNop())
	p := point.New(1001, 1, asdu.M_ME_NC_1, point.F32(42.5), 0, true)

	u, err := b.Build(p, asdu.Spontaneous)
	require.NoError(t, err)

	raw := marshal(t, u)
	require.Len(t, raw, 14)
	header(t, raw, asdu.M_ME_NC_1, asdu.Spontaneous, 1)
	assert.Equal(t, uint32(1001), ioaOf(raw))
	assert.Equal(t, float32(42.5), math.Float32frombits(binary.LittleEndian.Uint32(raw[9:13])))
	assert.Equal(t, byte(0x00), raw[13], "qds: good quality")
}

func TestBuildShortFloatInvalidSetsIV(t *testing.T) {
	b := iec104.NewBuilder(zap.NewNop())
	p := point.New(1001, 1, asdu.M_ME_NC_1, point.F32(1.0), 0, false)

	u, err := b.Build(p, asdu.Spontaneous)
	require.NoError(t, err)

	raw := marshal(t, u)
	require.Len(t, raw, 14)
	assert.Equal(t, byte(asdu.QDSInvalid), raw[13], "qds: iv set")
}

func TestBuildSinglePointFrame(t *testing.T) {
	b := iec104.NewBuilder(zap.NewNop())

	cases := []struct {
		name  string
		value point.Value
		valid bool
		siq   byte
	}{
		{"on_good", point.Bool(true), true, 0x01},
		{"off_good", point.Bool(false), true, 0x00},
		{"on_invalid", point.Bool(true), false, 0x81},
		{"numeric_truthy", point.I32(7), true, 0x01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := point.New(205, 1, asdu.M_SP_NA_1, tc.value, 0, tc.valid)
			u, err := b.Build(p, asdu.InterrogatedByStation)
			require.NoError(t, err)

			raw := marshal(t, u)
			require.Len(t, raw, 10)
			header(t, raw, asdu.M_SP_NA_1, asdu.InterrogatedByStation, 1)
			assert.Equal(t, uint32(205), ioaOf(raw))
			assert.Equal(t, tc.siq, raw[9], "siq octet")
		})
	}
}

func TestBuildScaledValueFrame(t *testing.T) {
	b := iec104.NewBuilder(zap.NewNop())
	p := point.New(3005, 1, asdu.M_ME_NB_1, point.I32(-1234), 0, true)

	u, err := b.Build(p, asdu.Spontaneous)
	require.NoError(t, err)

	raw := marshal(t, u)
	require.Len(t, raw, 12)
	header(t, raw, asdu.M_ME_NB_1, asdu.Spontaneous, 1)
	assert.Equal(t, uint32(3005), ioaOf(raw))
	assert.Equal(t, int16(-1234), int16(binary.LittleEndian.Uint16(raw[9:11])))
	assert.Equal(t, byte(0x00), raw[11])
}

func TestBuildScaledValueClamps(t *testing.T) {
	b := iec104.NewBuilder(zap.NewNop())

	cases := []struct {
		name string
		in   int64
		want int16
	}{
		{"above_range", 123456, 32767},
		{"below_range", -123456, -32768},
		{"at_max", 32767, 32767},
		{"in_range", 100, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := point.New(3005, 1, asdu.M_ME_NB_1, point.I64(tc.in), 0, true)
			u, err := b.Build(p, asdu.Spontaneous)
			require.NoError(t, err)

			raw := marshal(t, u)
			require.Len(t, raw, 12)
			assert.Equal(t, tc.want, int16(binary.LittleEndian.Uint16(raw[9:11])))
		})
	}
}

func TestBuildTimestampedFrames(t *testing.T) {
	b := iec104.NewBuilder(zap.NewNop())
	src := time.Date(2026, 8, 26, 11, 42, 17, 250*int(time.Millisecond), time.UTC)

	t.Run("short_float_with_time", func(t *testing.T) {
		p := point.New(1001, 1, asdu.M_ME_TF_1, point.F64(3.25), src.UnixMilli(), true)
		u, err := b.Build(p, asdu.Spontaneous)
		require.NoError(t, err)

		raw := marshal(t, u)
		require.Len(t, raw, 21)
		header(t, raw, asdu.M_ME_TF_1, asdu.Spontaneous, 1)
		assert.Equal(t, float32(3.25), math.Float32frombits(binary.LittleEndian.Uint32(raw[9:13])))

		got := asdu.ParseCP56Time2a(raw[14:21], time.UTC)
		assert.True(t, got.Equal(src), "expected %v, got %v", src, got)
	})

	t.Run("single_point_with_time", func(t *testing.T) {
		p := point.New(205, 1, asdu.M_SP_TB_1, point.Bool(true), src.UnixMilli(), true)
		u, err := b.Build(p, asdu.Spontaneous)
		require.NoError(t, err)

		raw := marshal(t, u)
		require.Len(t, raw, 17)
		header(t, raw, asdu.M_SP_TB_1, asdu.Spontaneous, 1)
		assert.Equal(t, byte(0x01), raw[9])

		got := asdu.ParseCP56Time2a(raw[10:17], time.UTC)
		assert.True(t, got.Equal(src), "expected %v, got %v", src, got)
	})
}

func TestBuildSubstitutesGatewayTime(t *testing.T) {
	b := iec104.NewBuilder(zap.NewNop())
	before := time.Now().UTC()
	p := point.New(1001, 1, asdu.M_ME_TF_1, point.F32(1), 0, true)

	u, err := b.Build(p, asdu.Spontaneous)
	require.NoError(t, err)

	raw := marshal(t, u)
	require.Len(t, raw, 21)
	got := asdu.ParseCP56Time2a(raw[14:21], time.UTC)
	assert.False(t, got.Before(before.Truncate(time.Millisecond)))
	assert.False(t, got.After(time.Now().UTC().Add(time.Second)))
}

func TestBuildUnknownTypeFallsBack(t *testing.T) {
	b := iec104.NewBuilder(zap.NewNop())
	p := point.New(1001, 1, asdu.M_IT_NA_1, point.F32(9.5), 0, true)

	u, err := b.Build(p, asdu.Spontaneous)
	require.NoError(t, err)

	raw := marshal(t, u)
	require.Len(t, raw, 14)
	assert.Equal(t, byte(asdu.M_ME_NC_1), raw[0], "fallback encoding")
}

func TestBuildNonNumericPayloadEncodesZero(t *testing.T) {
	b := iec104.NewBuilder(zap.NewNop())
	p := point.New(1001, 1, asdu.M_ME_NC_1, point.Str("not a number"), 0, true)

	u, err := b.Build(p, asdu.Spontaneous)
	require.NoError(t, err)

	raw := marshal(t, u)
	require.Len(t, raw, 14)
	assert.Equal(t, float32(0), math.Float32frombits(binary.LittleEndian.Uint32(raw[9:13])))
}

func TestBuildNilPoint(t *testing.T) {
	b := iec104.NewBuilder(zap.NewNop())
	u, err := b.Build(nil, asdu.Spontaneous)
	assert.Nil(t, u)
	assert.ErrorIs(t, err, iec104.ErrNilPoint)
}
