package env_mode

import "testing"

func TestParseEnv(t *testing.T) {
	cases := map[string]ENV_MODE{
		"development": DevMode,
		"dev":         DevMode,
		"":            DevMode,
		"  DEV ":      DevMode,
		"production":  ProMode,
		"prod":        ProMode,
		"pro":         ProMode,
		"test":        TestMode,
		"testing":     TestMode,
		"staging":     DevMode,
	}
	for in, want := range cases {
		if got := ParseEnv(in); got != want {
			t.Errorf("ParseEnv(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetModeOverridesCache(t *testing.T) {
	defer Reset()

	SetMode(TestMode)
	if got := Mode(); got != TestMode {
		t.Fatalf("Mode() = %q after SetMode(TestMode)", got)
	}

	SetMode(ProMode)
	if got := Mode(); got != ProMode {
		t.Fatalf("Mode() = %q after SetMode(ProMode)", got)
	}
}
