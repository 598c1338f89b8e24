package validation

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValidateAddr(t *testing.T) {
	if err := ValidateAddr(""); err == nil {
		t.Error("expected an empty address to be rejected")
	}
	if err := ValidateAddr("not an address"); err == nil {
		t.Error("expected a malformed address to be rejected")
	}
	if err := ValidateAddr("127.0.0.1:8080"); err != nil {
		t.Errorf("expected a valid address to pass, got %v", err)
	}
}

func TestValidateRangeInt(t *testing.T) {
	if err := ValidateRangeInt(5, 1, 10); err != nil {
		t.Errorf("expected 5 in [1,10] to pass, got %v", err)
	}
	if err := ValidateRangeInt(0, 1, 10); err == nil {
		t.Error("expected 0 to be rejected as out of range")
	}
}

func TestValidateMapRequest(t *testing.T) {
	inputs := []json.RawMessage{json.RawMessage("1")}
	if err := ValidateMapRequest("double", inputs, time.Second); err != nil {
		t.Errorf("expected a well-formed request to pass, got %v", err)
	}
	if err := ValidateMapRequest("", inputs, time.Second); err == nil {
		t.Error("expected an empty function name to be rejected")
	}
	if err := ValidateMapRequest("double", nil, time.Second); err == nil {
		t.Error("expected empty inputs to be rejected")
	}
	if err := ValidateMapRequest("double", inputs, 0); err == nil {
		t.Error("expected a non-positive timeout to be rejected")
	}
}
