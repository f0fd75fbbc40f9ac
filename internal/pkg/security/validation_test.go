package security

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRequestID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "6f1c2a9e-8d3b-4c1a-9f2e-1b2c3d4e5f60", false},
		{"trace style", "trace:abc.123_x", false},
		{"empty", "", true},
		{"leading dash", "-abc", true},
		{"space", "req 1", true},
		{"newline", "req\n1", true},
		{"slash", "a/b", true},
		{"too long", strings.Repeat("a", MaxRequestIDLength+1), true},
		{"max length", strings.Repeat("a", MaxRequestIDLength), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequestID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRequestID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil {
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.Field != "request_id" {
					t.Errorf("error = %#v, want *ValidationError for request_id", err)
				}
			}
		})
	}
}

func TestValidateStageName(t *testing.T) {
	tests := []struct {
		stage   string
		wantErr bool
	}{
		{"feature_load", false},
		{"inference", false},
		{"stage2", false},
		{"", true},
		{"Inference", true},
		{"2fast", true},
		{"merge-step", true},
		{strings.Repeat("a", MaxStageNameLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			if err := ValidateStageName(tt.stage); (err != nil) != tt.wantErr {
				t.Errorf("ValidateStageName(%q) error = %v, wantErr %v", tt.stage, err, tt.wantErr)
			}
		})
	}
}
