package funnel

import (
	"testing"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
)

func blockWithOptions(texts ...string) models.Block {
	opts := make([]models.Option, len(texts))
	for i, t := range texts {
		opts[i] = models.Option{Text: t, NextBlockID: "next"}
	}
	return models.Block{ID: "b1", Message: "pick one", Options: opts}
}

func TestResolveOptionExactBeatsSubstring(t *testing.T) {
	block := blockWithOptions("Yes", "Yes please")
	got := ResolveOption("yes", block)
	if got == nil {
		t.Fatal("expected a match, got nil")
	}
	if got.Text != "Yes" {
		t.Errorf("expected exact-equal option 'Yes', got %q", got.Text)
	}
}

func TestResolveOptionTrimsAndIgnoresCase(t *testing.T) {
	block := blockWithOptions("Tell me more")
	got := ResolveOption("  TELL ME MORE  ", block)
	if got == nil || got.Text != "Tell me more" {
		t.Fatalf("expected trimmed case-insensitive exact match, got %v", got)
	}
}

func TestResolveOptionSubstringEitherDirection(t *testing.T) {
	// input contained in option text
	block := blockWithOptions("No thanks", "Yes, definitely")
	if got := ResolveOption("definitely", block); got == nil || got.Text != "Yes, definitely" {
		t.Fatalf("expected option containing input, got %v", got)
	}
	// option text contained in input
	block = blockWithOptions("pricing", "support")
	if got := ResolveOption("I want to ask about pricing", block); got == nil || got.Text != "pricing" {
		t.Fatalf("expected option contained in input, got %v", got)
	}
}

func TestResolveOptionSubstringFirstDeclaredWins(t *testing.T) {
	block := blockWithOptions("yes, definitely", "yes, but later")
	got := ResolveOption("yes", block)
	if got == nil || got.Text != "yes, definitely" {
		t.Fatalf("expected first declared option on substring tie, got %v", got)
	}
}

func TestResolveOptionNumericFallback(t *testing.T) {
	block := blockWithOptions("Red", "Green", "Blue")
	got := ResolveOption("2", block)
	if got == nil || got.Text != "Green" {
		t.Fatalf("expected 1-based numeric selection of second option, got %v", got)
	}
}

func TestResolveOptionTextualBeatsNumeric(t *testing.T) {
	// an option whose text contains "2" must win over numeric indexing
	block := blockWithOptions("Plan A", "2 day trial", "Plan C")
	got := ResolveOption("2", block)
	if got == nil || got.Text != "2 day trial" {
		t.Fatalf("expected substring match on option text, got %v", got)
	}
}

func TestResolveOptionNumericOutOfRange(t *testing.T) {
	block := blockWithOptions("Red", "Green")
	if got := ResolveOption("0", block); got != nil {
		t.Errorf("index 0 should not match, got %q", got.Text)
	}
	if got := ResolveOption("3", block); got != nil {
		t.Errorf("index beyond option count should not match, got %q", got.Text)
	}
}

func TestResolveOptionNoMatch(t *testing.T) {
	block := blockWithOptions("Red", "Green")
	if got := ResolveOption("purple", block); got != nil {
		t.Errorf("expected nil for unmatched input, got %q", got.Text)
	}
	if got := ResolveOption("   ", block); got != nil {
		t.Errorf("expected nil for blank input, got %q", got.Text)
	}
	if got := ResolveOption("red", models.Block{ID: "empty"}); got != nil {
		t.Errorf("expected nil for block without options, got %q", got.Text)
	}
}

func TestResolveOptionReturnsPointerIntoBlock(t *testing.T) {
	block := blockWithOptions("Red", "Green")
	got := ResolveOption("green", block)
	if got != &block.Options[1] {
		t.Error("expected resolver to return a pointer into the block's option slice")
	}
}
