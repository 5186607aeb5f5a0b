package utils

import "testing"

func TestUpperCamelCase(t *testing.T) {
	cases := map[string]string{
		"event_bus.dropped_total": "EventBusDroppedTotal",
		"dispose_failures":        "DisposeFailures",
		"ops.request":             "OpsRequest",
		"heap_bytes":              "HeapBytes",
		"":                        "",
	}
	for in, want := range cases {
		if got := UpperCamelCase(in); got != want {
			t.Errorf("UpperCamelCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLowerCamelCase(t *testing.T) {
	cases := map[string]string{
		"dispose_failures": "disposeFailures",
		"ops.request":      "opsRequest",
		"":                 "",
	}
	for in, want := range cases {
		if got := LowerCamelCase(in); got != want {
			t.Errorf("LowerCamelCase(%q) = %q, want %q", in, got, want)
		}
	}
}
