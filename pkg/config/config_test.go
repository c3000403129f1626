package config

import "testing"

func TestValidateRejectsNonPositiveBinWidth(t *testing.T) {
	c := &Config{MsPerBin: 0, HistoryCapacity: 1}
	if err := c.Validate(); err == nil {
		t.Fatal("want error for zero ms_per_bin, got nil")
	}
	c.MsPerBin = -1
	if err := c.Validate(); err == nil {
		t.Fatal("want error for negative ms_per_bin, got nil")
	}
}

func TestValidateRejectsHistoryCapacityBelowOne(t *testing.T) {
	c := &Config{MsPerBin: DefaultMsPerBin, HistoryCapacity: 0}
	if err := c.Validate(); err == nil {
		t.Fatal("want error for zero history capacity, got nil")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := &Config{MsPerBin: DefaultMsPerBin, HistoryCapacity: DefaultHistoryCapacity}
	if err := c.Validate(); err != nil {
		t.Errorf("want no error, got %v", err)
	}
}
