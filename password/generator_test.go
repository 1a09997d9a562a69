package password

import "testing"

func TestGeneratorSatisfiesPolicy(t *testing.T) {
	policy := DefaultPolicy()
	gen, err := NewGenerator(policy)
	if err != nil {
		t.Fatalf("NewGenerator error: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		pw, err := gen.Generate()
		if err != nil {
			t.Fatalf("Generate error: %v", err)
		}
		if len(pw) != policy.Length {
			t.Fatalf("unexpected length %d", len(pw))
		}
		if !policy.Satisfies(pw) {
			t.Fatalf("generated password %q does not satisfy policy", pw)
		}
		seen[pw] = true
	}
	if len(seen) < 50 {
		t.Fatalf("expected distinct passwords, got %d unique", len(seen))
	}
}

func TestGeneratorRejectsImpossiblePolicy(t *testing.T) {
	if _, err := NewGenerator(Policy{Length: 10, MinLower: 4, MinUpper: 4, MinDigits: 4}); err == nil {
		t.Fatal("expected minimums exceeding length to be rejected")
	}
	if _, err := NewGenerator(Policy{Length: 6}); err == nil {
		t.Fatal("expected short length to be rejected")
	}
}

func TestGeneratorWithoutSpecials(t *testing.T) {
	gen, err := NewGenerator(Policy{Length: 12, MinDigits: 3})
	if err != nil {
		t.Fatalf("NewGenerator error: %v", err)
	}
	pw, err := gen.Generate()
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	for _, r := range pw {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			t.Fatalf("unexpected special character in %q", pw)
		}
	}
}
