package bitfield

import "testing"

func TestPTEFlagsPack(t *testing.T) {
	tests := []struct {
		name     string
		flags    PTEFlags
		expected uint32
		wantErr  bool
	}{
		{
			name:     "none set",
			flags:    PTEFlags{},
			expected: 0x0,
		},
		{
			name:     "present only",
			flags:    PTEFlags{Present: true},
			expected: 0x1,
		},
		{
			name:     "present + writable (READWRITE region)",
			flags:    PTEFlags{Present: true, Writable: true},
			expected: 0x3,
		},
		{
			name:     "present + user",
			flags:    PTEFlags{Present: true, User: true},
			expected: 0x5,
		},
		{
			name:     "present + writable + cache-disable (NOCACHE MMIO)",
			flags:    PTEFlags{Present: true, Writable: true, CacheDisable: true},
			expected: 0xB,
		},
		{
			name:     "all four bits",
			flags:    PTEFlags{Present: true, Writable: true, User: true, CacheDisable: true},
			expected: 0xF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.Pack()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Pack() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("Pack() = 0x%x, want 0x%x", got, tt.expected)
			}
		})
	}
}
