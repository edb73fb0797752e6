package mapping_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/riclolsen/go-iecp5/asdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-anmol/iec-gateway/internal/mapping"
)

func TestDefaultTable(t *testing.T) {
	table := mapping.Default(1)

	m, ok := table.IEC61850("iec61850_measurement1")
	require.True(t, ok)
	assert.Equal(t, uint32(1001), m.IOA)
	assert.Equal(t, asdu.M_ME_NC_1, m.Type)
	assert.Equal(t, uint16(1), m.CommonAddress)

	m, ok = table.Modbus("modbus_register5")
	require.True(t, ok)
	assert.Equal(t, uint32(3005), m.IOA)
	assert.Equal(t, asdu.M_ME_NB_1, m.Type)
	assert.Equal(t, 0.1, m.ScalingFactor)
	assert.Equal(t, uint16(1004), m.Register)

	_, ok = table.Modbus("modbus_register99")
	assert.False(t, ok)
	_, ok = table.IEC61850("modbus_register1")
	assert.False(t, ok)

	assert.Equal(t, 21, table.Size())
	assert.Len(t, table.ModbusChannels(), 11)
}

func TestDefaultTableStationAddress(t *testing.T) {
	table := mapping.Default(7)

	m, ok := table.IEC61850("iec61850_measurement1")
	require.True(t, ok)
	assert.Equal(t, uint16(7), m.CommonAddress)

	m, ok = table.Modbus("modbus_register5")
	require.True(t, ok)
	assert.Equal(t, uint16(7), m.CommonAddress)

	// zero falls back to the default station address
	m, _ = mapping.Default(0).IEC61850("iec61850_measurement1")
	assert.Equal(t, uint16(mapping.DefaultCommonAddress), m.CommonAddress)
}

func TestParseType(t *testing.T) {
	for name, want := range map[string]asdu.TypeID{
		"M_SP_NA_1": asdu.M_SP_NA_1,
		"M_SP_TB_1": asdu.M_SP_TB_1,
		"M_ME_NB_1": asdu.M_ME_NB_1,
		"M_ME_NC_1": asdu.M_ME_NC_1,
		"M_ME_TF_1": asdu.M_ME_TF_1,
	} {
		got, err := mapping.ParseType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := mapping.ParseType("M_IT_NA_1")
	assert.Error(t, err)
	_, err = mapping.ParseType("")
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	content := `
iec61850:
  iec61850_power:
    ioa: 2001
    asdu_type: M_ME_TF_1
    data_type: FLOAT
    description: Feeder 1 Active Power
modbus:
  modbus_temp:
    ioa: 4001
    common_address: 2
    asdu_type: M_ME_NB_1
    data_type: INT16
    scaling_factor: 0.5
    offset: -10
    register: 1200
`
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table, err := mapping.Load(path, 3)
	require.NoError(t, err)

	m, ok := table.IEC61850("iec61850_power")
	require.True(t, ok)
	assert.Equal(t, uint32(2001), m.IOA)
	assert.Equal(t, asdu.M_ME_TF_1, m.Type)
	// omitted fields inherit the station address and default scaling
	assert.Equal(t, uint16(3), m.CommonAddress)
	assert.Equal(t, 1.0, m.ScalingFactor)

	m, ok = table.Modbus("modbus_temp")
	require.True(t, ok)
	assert.Equal(t, uint16(2), m.CommonAddress)
	assert.Equal(t, 0.5, m.ScalingFactor)
	assert.Equal(t, -10.0, m.Offset)
	assert.Equal(t, uint16(1200), m.Register)
}

func TestLoadFileRejectsBadEntries(t *testing.T) {
	dir := t.TempDir()

	badType := filepath.Join(dir, "bad_type.yaml")
	require.NoError(t, os.WriteFile(badType, []byte(`
modbus:
  modbus_x: {ioa: 1, asdu_type: C_SC_NA_1}
`), 0o644))
	_, err := mapping.Load(badType, 1)
	assert.Error(t, err)

	zeroIOA := filepath.Join(dir, "zero_ioa.yaml")
	require.NoError(t, os.WriteFile(zeroIOA, []byte(`
modbus:
  modbus_x: {ioa: 0, asdu_type: M_ME_NC_1}
`), 0o644))
	_, err = mapping.Load(zeroIOA, 1)
	assert.Error(t, err)

	_, err = mapping.Load(filepath.Join(dir, "missing.yaml"), 1)
	assert.Error(t, err)
}
