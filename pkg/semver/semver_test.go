package semver

import "testing"

func TestHighestExcludesPrereleaseWhenOnlyStable(t *testing.T) {
	versions := []string{"1.0.0", "1.1.0-dev", "1.0.5"}
	got, ok := Highest(versions, true)
	if !ok || got != "1.0.5" {
		t.Fatalf("expected 1.0.5, got %q (ok=%v)", got, ok)
	}
}

func TestHighestIncludesPrereleaseWhenAllowed(t *testing.T) {
	versions := []string{"1.0.0", "1.1.0-dev", "1.0.5"}
	got, ok := Highest(versions, false)
	if !ok || got != "1.1.0-dev" {
		t.Fatalf("expected 1.1.0-dev, got %q (ok=%v)", got, ok)
	}
}

func TestSortAscending(t *testing.T) {
	got := Sort([]string{"1.2.0", "1.0.0", "not-a-version", "1.1.0"})
	want := []string{"1.0.0", "1.1.0", "1.2.0"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSatisfiesConstraint(t *testing.T) {
	ok, err := SatisfiesConstraint("5.4.0", "~> 5.0")
	if err != nil {
		t.Fatalf("satisfies: %v", err)
	}
	if !ok {
		t.Fatal("expected 5.4.0 to satisfy ~> 5.0")
	}
	ok, err = SatisfiesConstraint("6.0.0", "~> 5.0")
	if err != nil {
		t.Fatalf("satisfies: %v", err)
	}
	if ok {
		t.Fatal("expected 6.0.0 to not satisfy ~> 5.0")
	}
}
