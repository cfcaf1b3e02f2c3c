package version

import (
	"errors"
	"fmt"
	"testing"
)

func TestCheckCompatibilityTable(t *testing.T) {
	cases := []struct {
		node, required string
		want           Compatibility
	}{
		{"1.2.3", "1.2.3", Equal},
		{"1.3.0", "1.2.0", NewerCompatible},
		{"1.2.5", "1.2.3", NewerCompatible},
		{"1.1.0", "1.2.0", OlderCompatible},
		{"1.2.1", "1.2.3", OlderCompatible},
		{"2.0.0", "1.2.3", Incompatible},
		{"1.0.0", "2.0.0", Incompatible},
		{"1.2.3", "1.2.5", OlderCompatible},
		{"1.3.0", "1.4.0", OlderCompatible},
		{"0.8.0", "0.9.0", Incompatible},
		{"0.9.0", "0.8.0", Incompatible},
		{"0.9.1", "0.9.0", NewerCompatible},
		{"0.9.0", "0.9.1", OlderCompatible},
		{"0.9.0", "0.9.0", Equal},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_vs_%s", tc.node, tc.required), func(t *testing.T) {
			got, err := CheckCompatibility(tc.node, tc.required)
			if err != nil {
				t.Fatalf("CheckCompatibility: %v", err)
			}
			if got != tc.want {
				t.Errorf("CheckCompatibility(%q, %q) = %v, want %v", tc.node, tc.required, got, tc.want)
			}
		})
	}
}

func TestCheckCompatibilityInvalidVersions(t *testing.T) {
	if _, err := CheckCompatibility("invalid", "1.2.3"); err == nil {
		t.Error("expected error for invalid node version")
	}
	if _, err := CheckCompatibility("1.2.3", "invalid"); err == nil {
		t.Error("expected error for invalid required version")
	}
}

type fakeProtocolConfig struct {
	version string
	err     error
}

func (f fakeProtocolConfig) NodeVersion() (string, error) {
	return f.version, f.err
}

type fakeLogger struct{ lines []string }

func (f *fakeLogger) Printf(format string, args ...interface{}) {
	f.lines = append(f.lines, fmt.Sprintf(format, args...))
}

func TestValidateEmptyRequirementDisablesEnforcement(t *testing.T) {
	Current = "1.0.0"
	logger := &fakeLogger{}
	if err := Validate(fakeProtocolConfig{version: ""}, logger); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateIncompatibleReturnsError(t *testing.T) {
	Current = "2.0.0"
	logger := &fakeLogger{}
	err := Validate(fakeProtocolConfig{version: "1.5.0"}, logger)
	if err == nil {
		t.Fatal("expected Validate to fail for incompatible version")
	}
}

func TestValidateOlderCompatibleDoesNotFail(t *testing.T) {
	Current = "1.0.0"
	logger := &fakeLogger{}
	if err := Validate(fakeProtocolConfig{version: "1.5.0"}, logger); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidatePropagatesFetchError(t *testing.T) {
	logger := &fakeLogger{}
	wantErr := errors.New("rpc down")
	err := Validate(fakeProtocolConfig{err: wantErr}, logger)
	if err == nil {
		t.Fatal("expected error when NodeVersion fails")
	}
}
