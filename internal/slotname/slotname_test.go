package slotname

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"default":        "default",
		"Tenant-42":      "tenant_42",
		"tenant.eu/west": "tenant_eu_west",
		"日本語":            "___",
		"":               "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlot(t *testing.T) {
	got := Slot("orders-service", "tenant-42")
	want := "hermes_orders_service_tenant_42"
	if got != want {
		t.Errorf("Slot() = %q, want %q", got, want)
	}
}
