package validator

import (
	"testing"
)

func TestValidator_Struct(t *testing.T) {
	type event struct {
		Type  string `validate:"required,oneof=join message"`
		Room  int64  `validate:"required"`
		Emoji string `validate:"required_if=Type message"`
	}

	tests := []struct {
		name       string
		in         event
		wantFields []string
	}{
		{
			name: "Valid",
			in:   event{Type: "join", Room: 1},
		},
		{
			name:       "MissingAll",
			in:         event{},
			wantFields: []string{"Type", "Room"},
		},
		{
			name:       "UnknownType",
			in:         event{Type: "shout", Room: 1},
			wantFields: []string{"Type"},
		},
		{
			name:       "ConditionallyRequired",
			in:         event{Type: "message", Room: 1},
			wantFields: []string{"Emoji"},
		},
		{
			name: "ConditionNotTriggered",
			in:   event{Type: "join", Room: 1},
		},
	}

	va := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := va.Struct(tt.in)
			var fields []string
			for _, fe := range errs {
				fields = append(fields, fe.Field)
			}
			if len(fields) != len(tt.wantFields) {
				t.Fatalf("Got fields %v, want %v", fields, tt.wantFields)
			}
			for i, field := range fields {
				if field != tt.wantFields[i] {
					t.Errorf("Field %d = %q, want %q", i, field, tt.wantFields[i])
				}
			}
		})
	}
}
