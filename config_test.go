package main

import (
	"testing"

	"github.com/rpll/pkg/rp"
)

func TestLookupRegister(t *testing.T) {
	def, ch, ok := lookupRegister("freq_ref_ch2")
	if !ok || ch != 1 || def.ID[1] != "14" {
		t.Fatalf("freq_ref_ch2 -> id=%q ch=%d ok=%v", def.ID[ch], ch, ok)
	}
	def, ch, ok = lookupRegister("piezo_offset_ch1")
	if !ok || ch != 0 || def.ID[0] != "0E" || def.Kind != regOffset {
		t.Fatalf("piezo_offset_ch1 -> %+v ch=%d ok=%v", def, ch, ok)
	}
	if _, _, ok := lookupRegister("no_such_setting"); ok {
		t.Error("unknown key resolved")
	}
}

func TestRegisterTableIDsUnique(t *testing.T) {
	seen := make(map[string]string)
	for _, def := range registerTable {
		for ch := 0; ch < 2; ch++ {
			id := def.ID[ch]
			if prev, dup := seen[id]; dup {
				t.Errorf("register id %s shared by %s and %s", id, prev, def.Name)
			}
			seen[id] = def.Name
			if _, err := rp.PackRegisterWrite(id, 0); err != nil {
				t.Errorf("id %s (%s) does not encode: %v", id, def.Name, err)
			}
		}
	}
}

func TestEncodeSetting(t *testing.T) {
	ifreq, _, _ := lookupRegister("ifreq_ch1")
	if got := encodeSetting(ifreq, 10e6); got != 327 {
		t.Errorf("ifreq 10 MHz -> %d, want 327", got)
	}
	ref, _, _ := lookupRegister("freq_ref_ch1")
	if got := encodeSetting(ref, 10e6); got != 2684354 {
		t.Errorf("freq_ref 10 MHz -> %d, want 2684354", got)
	}
	offset, _, _ := lookupRegister("temp_offset_ch2")
	if got := encodeSetting(offset, -0.5); got != rp.OffsetFloatToInt(-0.5) {
		t.Errorf("offset -0.5 -> %d", got)
	}
	sw, _, _ := lookupRegister("piezo_switch_ch1")
	if got := encodeSetting(sw, 1); got != 1 {
		t.Errorf("switch 1 -> %d", got)
	}
}
