// Package mapping holds the immutable lookup from source channel IDs to
// IEC 104 addressing. The table is built once at startup and never mutated.
package mapping

import (
	"fmt"
	"sort"

	"github.com/riclolsen/go-iecp5/asdu"
)

// Defaults for the IEC 104 egress side. The server reads its runtime
// values from configuration; these are the fallbacks.
const (
	DefaultBindIP         = "0.0.0.0"
	DefaultPort           = 2404
	DefaultCommonAddress  = 1
	DefaultMaxConnections = 10
)

// Mapping fixes how one source channel is published on IEC 104.
// ScalingFactor and Offset are applied by the Modbus adapter only
// (scaled = raw*factor + offset), never inside the core.
type Mapping struct {
	IOA           uint32
	CommonAddress uint16
	Type          asdu.TypeID
	DataType      string
	ScalingFactor float64
	Offset        float64
	Description   string

	// Register is the Modbus holding-register address backing this
	// channel. Unused for IEC 61850 entries.
	Register uint16
}

// ParseType resolves an ASDU type name ("M_ME_NC_1", ...) to its type
// identifier. Only the emitted monitor types are recognised.
func ParseType(name string) (asdu.TypeID, error) {
	switch name {
	case "M_SP_NA_1":
		return asdu.M_SP_NA_1, nil
	case "M_SP_TB_1":
		return asdu.M_SP_TB_1, nil
	case "M_ME_NB_1":
		return asdu.M_ME_NB_1, nil
	case "M_ME_NC_1":
		return asdu.M_ME_NC_1, nil
	case "M_ME_TF_1":
		return asdu.M_ME_TF_1, nil
	}
	return 0, fmt.Errorf("unsupported asdu type %q", name)
}

// Table is the process-wide registry, one disjoint sub-table per source
// protocol. Lookups on a missing channel are not errors; the adapters
// skip unmapped channels silently.
type Table struct {
	iec61850 map[string]Mapping
	modbus   map[string]Mapping
}

// IEC61850 looks up the mapping for an IEC 61850 channel ID.
func (t *Table) IEC61850(channelID string) (Mapping, bool) {
	m, ok := t.iec61850[channelID]
	return m, ok
}

// Modbus looks up the mapping for a Modbus channel ID.
func (t *Table) Modbus(channelID string) (Mapping, bool) {
	m, ok := t.modbus[channelID]
	return m, ok
}

// IEC61850Channels returns the mapped IEC 61850 channel IDs, sorted.
func (t *Table) IEC61850Channels() []string { return sortedKeys(t.iec61850) }

// ModbusChannels returns the mapped Modbus channel IDs, sorted.
func (t *Table) ModbusChannels() []string { return sortedKeys(t.modbus) }

// Size returns the total number of mapped channels.
func (t *Table) Size() int { return len(t.iec61850) + len(t.modbus) }

func sortedKeys(m map[string]Mapping) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Default builds the compiled-in table: ten IEC 61850 measurement
// channels on IOAs 1001-1010 and eleven Modbus holding registers on
// IOAs 3001-3011, all on the given common address (0 means the
// default station address).
func Default(ca uint16) *Table {
	if ca == 0 {
		ca = DefaultCommonAddress
	}
	iec := make(map[string]Mapping)
	refs := []string{
		"IC3_F650PRO/LLN0.Mod.stVal",
		"IC3_F650PRO/LLN0.Mod.ctlModel",
		"IC3_F650PRO/LLN0.Beh.stVal",
		"IC3_F650PRO/LLN0.Health.stVal",
		"IC3_F650PRO/LLN0.Loc.stVal",
		"IC3_F650PRO/LLN0.OpTmh.stVal",
		"IC3_F650CON/LLN0.OpTmh.stVal",
		"IC3_F650CON/LLN0.Mod.stVal",
		"IC3_F650CON/LLN0.LocSta.stVal",
		"IC3_F650CON/LPHD1.PhyHealth.stVal",
	}
	for i, ref := range refs {
		id := fmt.Sprintf("iec61850_measurement%d", i+1)
		iec[id] = Mapping{
			IOA:           uint32(1001 + i),
			CommonAddress: ca,
			Type:          asdu.M_ME_NC_1,
			DataType:      "DOUBLE",
			ScalingFactor: 1.0,
			Description:   ref,
		}
	}

	mb := make(map[string]Mapping)
	for i := 0; i < 11; i++ {
		id := fmt.Sprintf("modbus_register%d", i+1)
		mb[id] = Mapping{
			IOA:           uint32(3001 + i),
			CommonAddress: ca,
			Type:          asdu.M_ME_NC_1,
			DataType:      "INT16",
			ScalingFactor: 1.0,
			Register:      uint16(1000 + i),
			Description:   fmt.Sprintf("Holding Register %d", 1000+i),
		}
	}
	// Register 1004 carries a deci-scaled value and goes out as a
	// scaled INT16 instead of a short float.
	mb["modbus_register5"] = Mapping{
		IOA:           3005,
		CommonAddress: ca,
		Type:          asdu.M_ME_NB_1,
		DataType:      "INT16",
		ScalingFactor: 0.1,
		Register:      1004,
		Description:   "Holding Register 1004",
	}

	return &Table{iec61850: iec, modbus: mb}
}
