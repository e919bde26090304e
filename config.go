package main

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/viper"

	"github.com/rpll/pkg/rp"
)

// registerKind selects the numeric encoding a register expects.
type registerKind int

const (
	regScaled registerKind = iota // int(factor * value)
	regOffset                     // 14-bit signed fixed point
)

type registerDef struct {
	Name   string    // settings key without the channel suffix
	ID     [2]string // firmware register id per channel, hex
	Kind   registerKind
	Factor float64
}

// registerTable is the firmware register map. IDs and scale factors are a
// wire contract with the server; the order matters only for the settings
// push, which follows the table top to bottom.
var registerTable = []registerDef{
	{Name: "ifreq", ID: [2]string{"03", "04"}, Kind: regScaled, Factor: 0.000032768},
	{Name: "pll_gain_p", ID: [2]string{"05", "06"}, Kind: regScaled, Factor: 1},
	{Name: "pll_gain_i", ID: [2]string{"07", "08"}, Kind: regScaled, Factor: 1},
	{Name: "freq_ref", ID: [2]string{"09", "14"}, Kind: regScaled, Factor: 0.268435456},
	{Name: "piezo_switch", ID: [2]string{"0A", "15"}, Kind: regScaled, Factor: 1},
	{Name: "temp_switch", ID: [2]string{"0B", "16"}, Kind: regScaled, Factor: 1},
	{Name: "piezo_sign", ID: [2]string{"0C", "17"}, Kind: regScaled, Factor: 1},
	{Name: "temp_sign", ID: [2]string{"0D", "18"}, Kind: regScaled, Factor: 1},
	{Name: "piezo_offset", ID: [2]string{"0E", "19"}, Kind: regOffset},
	{Name: "temp_offset", ID: [2]string{"0F", "1A"}, Kind: regOffset},
	{Name: "piezo_gain_i", ID: [2]string{"10", "1B"}, Kind: regScaled, Factor: 1},
	{Name: "piezo_gain_ii", ID: [2]string{"11", "1C"}, Kind: regScaled, Factor: 1},
	{Name: "temp_gain_p", ID: [2]string{"12", "1D"}, Kind: regScaled, Factor: 1},
	{Name: "temp_gain_i", ID: [2]string{"13", "1E"}, Kind: regScaled, Factor: 1},
	{Name: "noise_floor", ID: [2]string{"1F", "20"}, Kind: regScaled, Factor: 1e-3},
	{Name: "noise_corner", ID: [2]string{"21", "22"}, Kind: regScaled, Factor: 1},
}

// settingKey builds the flat settings-file key, e.g. "freq_ref_ch1".
func settingKey(name string, ch int) string {
	return fmt.Sprintf("%s_ch%d", name, ch+1)
}

// lookupRegister resolves a settings key back to its table entry and
// channel index.
func lookupRegister(key string) (registerDef, int, bool) {
	for _, def := range registerTable {
		for ch := 0; ch < 2; ch++ {
			if settingKey(def.Name, ch) == key {
				return def, ch, true
			}
		}
	}
	return registerDef{}, 0, false
}

// encodeSetting converts a display value to the register payload word.
func encodeSetting(def registerDef, value float64) uint32 {
	if def.Kind == regOffset {
		return rp.OffsetFloatToInt(value)
	}
	return uint32(rp.ScaledValueToInt(value, def.Factor))
}

// loadSettings reads the register settings file (toml/yaml/json, by
// extension) into a flat key->value map. Unknown keys are kept so callers
// can report them; missing keys simply are not pushed.
func loadSettings(path string) (map[string]float64, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	settings := make(map[string]float64)
	for _, key := range v.AllKeys() {
		settings[key] = v.GetFloat64(key)
	}
	return settings, nil
}

// pushSettings writes every known setting in the map to the device, in
// register-table order. The server holds all registers at zero after a
// restart, so this runs on every (re)connect; without it the PLL
// integrators push the readout away from the signal.
func pushSettings(w io.Writer, settings map[string]float64) error {
	if w == nil || len(settings) == 0 {
		return nil
	}
	pushed := 0
	for _, def := range registerTable {
		for ch := 0; ch < 2; ch++ {
			key := settingKey(def.Name, ch)
			value, ok := settings[key]
			if !ok {
				continue
			}
			if err := rp.SendRegisterWrite(w, def.ID[ch], encodeSetting(def, value)); err != nil {
				return fmt.Errorf("push %s: %w", key, err)
			}
			pushed++
		}
	}
	log.Printf("pushed %d register settings", pushed)
	return nil
}

// writeSetting sends a single named setting and returns the encoded word
// for reporting.
func writeSetting(w io.Writer, key string, value float64) (uint32, error) {
	def, ch, ok := lookupRegister(key)
	if !ok {
		return 0, fmt.Errorf("unknown setting %q", key)
	}
	word := encodeSetting(def, value)
	if err := rp.SendRegisterWrite(w, def.ID[ch], word); err != nil {
		return 0, err
	}
	return word, nil
}
