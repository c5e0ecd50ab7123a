package utils

import "testing"

func TestValidatePlatformName(t *testing.T) {
	valid := []string{"web", "app", "desktop", "web-2", "mobile_app"}
	for _, name := range valid {
		if err := ValidatePlatformName(name); err != nil {
			t.Errorf("ValidatePlatformName(%q) unexpected error: %v", name, err)
		}
	}

	invalid := []string{"", "   ", "we:b", "my app", "tab\tname"}
	for _, name := range invalid {
		if err := ValidatePlatformName(name); err == nil {
			t.Errorf("ValidatePlatformName(%q) expected error", name)
		}
	}
}

func TestValidateChannelPrefix(t *testing.T) {
	if err := ValidateChannelPrefix("switchboard"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, p := range []string{"a/b", "..", `a\b`, ""} {
		if err := ValidateChannelPrefix(p); err == nil {
			t.Errorf("ValidateChannelPrefix(%q) expected error", p)
		}
	}
}
