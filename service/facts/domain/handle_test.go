package domain

import (
	"errors"
	"testing"
)

func TestNormalizeHandle_CanonicalForms(t *testing.T) {
	cases := []struct {
		raw  string
		want Handle
	}{
		{"alice", "alice"},
		{"@alice", "alice"},
		{"  @Alice  ", "alice"},
		{"ALICE", "alice"},
		{"a.b-c_d", "a.b-c_d"},
		{"@ jack", "jack"},
		{"user_42", "user_42"},
	}
	for _, c := range cases {
		got, err := NormalizeHandle(c.raw)
		if err != nil {
			t.Fatalf("NormalizeHandle(%q): %v", c.raw, err)
		}
		if got != c.want {
			t.Fatalf("NormalizeHandle(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestNormalizeHandle_RejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"@",
		".starts-with-dot",
		"-starts-with-dash",
		"has space",
		"tabs\there",
		"emoji🎉",
		"waaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaay-too-long",
	}
	for _, raw := range cases {
		if _, err := NormalizeHandle(raw); !errors.Is(err, ErrBadHandle) {
			t.Fatalf("NormalizeHandle(%q): expected ErrBadHandle, got %v", raw, err)
		}
	}
}

func TestKey_String(t *testing.T) {
	k := Key{Op: OpProfile, Handle: "alice"}
	if got := k.String(); got != "profile:alice" {
		t.Fatalf("expected profile:alice, got %q", got)
	}

	k = Key{Op: OpPosts, Handle: "alice", Param: "25"}
	if got := k.String(); got != "posts:alice:25" {
		t.Fatalf("expected posts:alice:25, got %q", got)
	}

	k = Key{Op: OpScore, Handle: "alice", Param: "t9"}
	if got := k.String(); got != "score:alice:t9" {
		t.Fatalf("expected score:alice:t9, got %q", got)
	}
}
