package bootcfg

import (
	"testing"

	"ember/internal/pgtbl"
)

func validConfig() Config {
	return Config{
		RAMBase:       0,
		RAMSize:       64 * 1024 * 1024,
		GuestRAM:      pgtbl.Window{Base: 0x40000000, Size: 16 * 1024 * 1024},
		NumCPUs:       4,
		TickMs:        10,
		ListRegisters: 4,
	}
}

func TestValidConfigPasses(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestZeroCPUsRejected(t *testing.T) {
	c := validConfig()
	c.NumCPUs = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for zero cpus")
	}
}

func TestZeroGuestRAMRejected(t *testing.T) {
	c := validConfig()
	c.GuestRAM = pgtbl.Window{}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for an empty guest ram window")
	}
}
