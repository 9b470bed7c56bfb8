package errors_test

import (
	"testing"

	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
)

func TestFatal(t *testing.T) {
	for _, v := range []struct {
		err      error
		expected bool
	}{
		{errors.Fatal("broken"), true},
		{errors.Fatalf("broken %d", 42), true},
		{errors.New("error"), false},
	} {
		if errors.IsFatal(v.err) != v.expected {
			t.Fatalf("IsFatal for %q, expected: %v, got: %v", v.err, v.expected, errors.IsFatal(v.err))
		}
	}
}

func TestTransientAndIntegrity(t *testing.T) {
	base := errors.New("catalog unavailable")
	tr := errors.Transient(base)
	if !errors.IsTransient(tr) {
		t.Fatalf("expected %v to be transient", tr)
	}
	if errors.IsIntegrity(tr) {
		t.Fatalf("transient error misclassified as integrity")
	}

	ig := errors.Integrityf("entry count mismatch: want %d got %d", 3, 2)
	if !errors.IsIntegrity(ig) {
		t.Fatalf("expected %v to be an integrity error", ig)
	}
	if errors.IsTransient(ig) {
		t.Fatalf("integrity error misclassified as transient")
	}
	if errors.IsFatal(ig) {
		t.Fatalf("integrity error must never be fatal")
	}
}
