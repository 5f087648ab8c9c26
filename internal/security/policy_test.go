package security

import "testing"

func TestPolicyRegistryFallback(t *testing.T) {
	reg := NewPolicyRegistry()

	got := reg.Get("coder")
	want := DefaultPolicy()
	if got.Mode != want.Mode || got.AllowPipes != want.AllowPipes {
		t.Fatalf("unknown worker policy = %+v, want default %+v", got, want)
	}
	if reg.Has("coder") {
		t.Fatal("fallback lookup must not create an entry")
	}
}

func TestPolicyRegistryIsolation(t *testing.T) {
	reg := NewPolicyRegistry()

	builder := Policy{Mode: ModePermissive, AllowPipes: true, AllowChaining: true}
	reg.Set("builder", builder)

	// Another worker never inherits builder's relaxed policy.
	coder := reg.Get("coder")
	if coder.AllowPipes || coder.AllowChaining {
		t.Fatalf("coder policy leaked from builder: %+v", coder)
	}

	got := reg.Get("builder")
	if !got.AllowPipes || !got.AllowChaining {
		t.Fatalf("builder policy = %+v, want pipes and chaining allowed", got)
	}
}

func TestPolicyRegistryReset(t *testing.T) {
	reg := NewPolicyRegistry()
	reg.Set("deployer", Policy{Mode: ModePermissive, AllowChaining: true})

	reg.Reset()

	if reg.Has("deployer") {
		t.Fatal("Reset should drop worker-specific policies")
	}
	if got := reg.Get("deployer"); got.AllowChaining {
		t.Fatalf("post-reset policy = %+v, want default", got)
	}
}

func TestPolicyValueSemantics(t *testing.T) {
	reg := NewPolicyRegistry()
	p := Policy{Mode: ModeStrict, AdditionalAllowedPrograms: []string{"terraform"}}
	reg.Set("deployer", p)

	// Mutating the caller's copy after Set must not affect the stored policy.
	p.Mode = ModePermissive

	if got := reg.Get("deployer"); got.Mode != ModeStrict {
		t.Fatalf("stored mode = %s, want strict", got.Mode)
	}
}
