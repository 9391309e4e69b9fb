package repository

import (
	"strings"
	"testing"
)

func TestVectorToString(t *testing.T) {
	tests := []struct {
		name     string
		vec      []float32
		expected string
	}{
		{"empty", nil, "[]"},
		{"single", []float32{0.5}, "[0.5]"},
		{"multiple", []float32{1, -0.25, 0}, "[1,-0.25,0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VectorToString(tt.vec); got != tt.expected {
				t.Errorf("VectorToString(%v) = %q, want %q", tt.vec, got, tt.expected)
			}
		})
	}
}

func TestStringToVector(t *testing.T) {
	vec, err := StringToVector("[0.5, -1, 2.25]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []float32{0.5, -1, 2.25}
	if len(vec) != len(expected) {
		t.Fatalf("expected %d components, got %d", len(expected), len(vec))
	}
	for i := range expected {
		if vec[i] != expected[i] {
			t.Errorf("component %d: got %f, want %f", i, vec[i], expected[i])
		}
	}
}

func TestStringToVector_InvalidFormat(t *testing.T) {
	if _, err := StringToVector("0.5,1.0"); err == nil {
		t.Error("expected error for missing brackets")
	}
	if _, err := StringToVector("[0.5,abc]"); err == nil {
		t.Error("expected error for non-numeric component")
	}
}

func TestStringToVector_ErrorTruncatesLongInput(t *testing.T) {
	long := strings.Repeat("x", 100)

	_, err := StringToVector(long)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Error()) > 80 {
		t.Errorf("expected truncated error message, got %d chars", len(err.Error()))
	}
}

func TestVectorRoundTrip(t *testing.T) {
	original := []float32{0.123456, -0.987654, 3072.5}

	parsed, err := StringToVector(VectorToString(original))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range original {
		if parsed[i] != original[i] {
			t.Errorf("component %d: got %f, want %f", i, parsed[i], original[i])
		}
	}
}
