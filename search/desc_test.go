package search

import (
	"errors"
	"reflect"
	"testing"
)

func TestFormatDesc(t *testing.T) {
	tests := []struct {
		name     string
		template string
		a        Assignment
		want     string
	}{
		{
			name:     "printf verbs",
			template: "lr{lr:.2e}-beta{beta:.1f}-drop{dropout:.2f}",
			a:        Assignment{"lr": 0.000123, "beta": 250.0, "dropout": 0.5},
			want:     "lr1.23e-04-beta250.0-drop0.50",
		},
		{
			name:     "bare placeholder uses default verb",
			template: "h{hidden}-o{opt}",
			a:        Assignment{"hidden": 512, "opt": "adam"},
			want:     "h512-oadam",
		},
		{
			name:     "repeated placeholder",
			template: "{x:.1f}_{x:.3f}",
			a:        Assignment{"x": 0.25},
			want:     "0.2_0.250",
		},
		{
			name:     "no placeholders",
			template: "baseline",
			a:        nil,
			want:     "baseline",
		},
		{
			name:     "adjacent placeholders",
			template: "{a}{b}",
			a:        Assignment{"a": 1, "b": 2},
			want:     "12",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatDesc(tt.template, tt.a)
			if err != nil {
				t.Fatalf("FormatDesc failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("FormatDesc = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDescErrors(t *testing.T) {
	tests := []struct {
		name     string
		template string
		a        Assignment
		want     error
	}{
		{
			name:     "unknown placeholder",
			template: "lr{lr:.2e}",
			a:        Assignment{"dropout": 0.5},
			want:     ErrUnknownPlaceholder,
		},
		{
			name:     "unmatched closing brace",
			template: "lr}x",
			want:     ErrBadTemplate,
		},
		{
			name:     "unterminated placeholder",
			template: "lr{lr",
			want:     ErrBadTemplate,
		},
		{
			name:     "empty placeholder",
			template: "x{}y",
			want:     ErrBadTemplate,
		},
		{
			name:     "empty verb",
			template: "x{lr:}y",
			want:     ErrBadTemplate,
		},
		{
			name:     "missing name before verb",
			template: "x{:.2f}y",
			want:     ErrBadTemplate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FormatDesc(tt.template, tt.a)
			if !errors.Is(err, tt.want) {
				t.Errorf("FormatDesc error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTemplateKeys(t *testing.T) {
	keys, err := TemplateKeys("lr{lr:.2e}-drop{dropout:.2f}-again{lr}")
	if err != nil {
		t.Fatalf("TemplateKeys failed: %v", err)
	}
	want := []string{"lr", "dropout", "lr"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("TemplateKeys = %v, want %v", keys, want)
	}

	keys, err = TemplateKeys("no placeholders")
	if err != nil {
		t.Fatalf("TemplateKeys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("TemplateKeys = %v, want none", keys)
	}

	if _, err := TemplateKeys("broken{"); !errors.Is(err, ErrBadTemplate) {
		t.Errorf("TemplateKeys error = %v, want ErrBadTemplate", err)
	}
}
