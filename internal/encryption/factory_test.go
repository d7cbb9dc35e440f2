package encryption

import (
	"testing"

	"cas-go/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		wantNil bool
		wantErr bool
	}{
		{"none", "none", true, false},
		{"unset", "", true, false},
		{"age", "age", false, false},
		{"test", "test", false, false},
		{"unknown", "rot13", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: tt.typ})
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("got nil = %v, want %v", got == nil, tt.wantNil)
			}
		})
	}
}
