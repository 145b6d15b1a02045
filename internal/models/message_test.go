package models

import (
	"testing"
	"time"
)

func TestPreviewUsesMediaLabel(t *testing.T) {
	kind := MediaVideo
	m := Message{Media: StrPtr("/uploads/videos/1_a.mp4"), MediaKind: &kind}
	if got := m.Preview(); got != "🎥 Video" {
		t.Fatalf("expected video label, got %q", got)
	}
	m.Text = StrPtr("look")
	if got := m.Preview(); got != "look" {
		t.Fatalf("text should win over media label, got %q", got)
	}
	bare := Message{Media: StrPtr("x")}
	if got := bare.Preview(); got != "📎 File" {
		t.Fatalf("missing kind should fall back to file, got %q", got)
	}
}

func TestLessBreaksTiesByID(t *testing.T) {
	now := time.Now()
	a := Message{ID: "a", CreatedAt: now}
	b := Message{ID: "b", CreatedAt: now}
	if !a.Less(&b) || b.Less(&a) {
		t.Fatalf("tie should be broken by id")
	}
	c := Message{ID: "0", CreatedAt: now.Add(time.Millisecond)}
	if !b.Less(&c) {
		t.Fatalf("earlier timestamp should sort first")
	}
}

func TestNormalizePair(t *testing.T) {
	a, b := NormalizePair("u2", "u1")
	if a != "u1" || b != "u2" {
		t.Fatalf("got %s,%s", a, b)
	}
	th := Thread{UserA: a, UserB: b}
	if th.Counterpart("u1") != "u2" || th.Counterpart("u3") != "" {
		t.Fatalf("counterpart lookup wrong")
	}
}
