package label

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	names := []string{"mel", "nv", "bcc", "akiec", "bkl", "df", "vasc"}
	enc := Fit(names)

	if enc.NumClasses() != 7 {
		t.Fatalf("expected 7 classes, got %d", enc.NumClasses())
	}
	for _, name := range names {
		idx, err := enc.Encode(name)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		back, err := enc.Decode(idx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if back != name {
			t.Fatalf("expected %q, got %q", name, back)
		}
	}
}

func TestFitDeterministic(t *testing.T) {
	a := Fit([]string{"nv", "mel", "bcc"})
	b := Fit([]string{"bcc", "nv", "mel", "nv"})

	for _, name := range []string{"bcc", "mel", "nv"} {
		ia, _ := a.Encode(name)
		ib, _ := b.Encode(name)
		if ia != ib {
			t.Fatalf("index mismatch for %q: %d vs %d", name, ia, ib)
		}
	}
}

func TestEncodeUnknownLabel(t *testing.T) {
	enc := Fit([]string{"mel", "nv"})
	_, err := enc.Encode("df")
	if err == nil {
		t.Fatal("expected error for unknown label")
	}
	var unknown *UnknownLabelError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownLabelError, got %T", err)
	}
}

func TestDecodeOutOfRange(t *testing.T) {
	enc := Fit([]string{"mel", "nv"})
	for _, idx := range []int{-1, 2, 100} {
		if _, err := enc.Decode(idx); err == nil {
			t.Fatalf("expected error for index %d", idx)
		}
	}
}

func TestEncodingJSONRoundTrip(t *testing.T) {
	enc := Fit([]string{"nv", "mel", "bcc"})
	data, err := json.Marshal(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var restored Encoding
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restored.NumClasses() != enc.NumClasses() {
		t.Fatalf("class count mismatch: %d vs %d", restored.NumClasses(), enc.NumClasses())
	}
	for i, name := range enc.Classes() {
		got, err := restored.Decode(i)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != name {
			t.Fatalf("expected %q at %d, got %q", name, i, got)
		}
	}
}
