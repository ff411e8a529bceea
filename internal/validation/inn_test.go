package validation

import "testing"

func TestIsValidINN(t *testing.T) {
	tests := []struct {
		name  string
		inn   string
		valid bool
	}{
		{
			name:  "valid 9 digits",
			inn:   "305123456",
			valid: true,
		},
		{
			name:  "valid 10 digits with checksum",
			inn:   "7707083893",
			valid: true,
		},
		{
			name:  "invalid checksum",
			inn:   "7707083894",
			valid: false,
		},
		{
			name:  "contains letters",
			inn:   "77070838a3",
			valid: false,
		},
		{
			name:  "wrong length",
			inn:   "12345",
			valid: false,
		},
		{
			name:  "empty string",
			inn:   "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidINN(tt.inn)
			if got != tt.valid {
				t.Errorf("IsValidINN(%q) = %v, want %v", tt.inn, got, tt.valid)
			}
		})
	}
}

func TestIsValidPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		valid bool
	}{
		{
			name:  "with plus",
			phone: "+998901234567",
			valid: true,
		},
		{
			name:  "without plus",
			phone: "998901234567",
			valid: true,
		},
		{
			name:  "too short",
			phone: "+12345",
			valid: false,
		},
		{
			name:  "letters",
			phone: "+9989012345ab",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidPhone(tt.phone)
			if got != tt.valid {
				t.Errorf("IsValidPhone(%q) = %v, want %v", tt.phone, got, tt.valid)
			}
		})
	}
}
