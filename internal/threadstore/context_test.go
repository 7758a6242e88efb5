package threadstore

import (
	"fmt"
	"strings"
	"testing"
)

func TestFormatContextContainsFenceAndWrapper(t *testing.T) {
	file := &ThreadFile{ThreadTS: "T1", Channel: "C1"}
	out := FormatContext(file, 6000)
	if !strings.Contains(out, InjectionFence) {
		t.Fatal("expected injection fence in empty-transcript output")
	}
	if !strings.Contains(out, "</thread-context>") {
		t.Fatal("expected closing wrapper tag")
	}
}

func TestFormatContextFitsBudgetWithManyMessages(t *testing.T) {
	file := &ThreadFile{ThreadTS: "T1", Channel: "C1"}
	for i := 0; i < 20; i++ {
		file.Messages = append(file.Messages, ThreadMessage{
			Role: "user",
			Name: "alice",
			Text: strings.Repeat("x", 150),
			TS:   fmt.Sprintf("%d.0", i),
		})
	}
	out := FormatContext(file, 3000)
	if len(out) > 3000 {
		t.Fatalf("expected output <= 3000 bytes, got %d", len(out))
	}
	for i := 10; i < 20; i++ {
		line := fmt.Sprintf("ts=\"%d.0\">%s</thread-message>", i, strings.Repeat("x", 150))
		if !strings.Contains(out, line) {
			t.Fatalf("expected full text of tail message %d to be present verbatim", i)
		}
	}
	if !strings.Contains(out, "</thread-context>") || !strings.Contains(out, InjectionFence) {
		t.Fatal("expected wrapper and fence to survive truncation")
	}
}

func TestFormatContextSmallBudgetReturnsTailOnly(t *testing.T) {
	file := &ThreadFile{ThreadTS: "T1", Channel: "C1"}
	for i := 0; i < 30; i++ {
		file.Messages = append(file.Messages, ThreadMessage{
			Role: "user", Name: "alice", Text: strings.Repeat("y", 500), TS: fmt.Sprintf("%d.0", i),
		})
	}
	out := FormatContext(file, 1)
	count := strings.Count(out, "<thread-message")
	if count != tailSize {
		t.Fatalf("expected exactly the %d-message tail when nothing else fits, got %d messages", tailSize, count)
	}
}

func TestFirstSentence(t *testing.T) {
	cases := map[string]string{
		"Hello. World.":     "Hello.",
		"No terminator here": "No terminator here",
		"Line one.\nLine two.": "Line one.",
	}
	for in, want := range cases {
		if got := firstSentence(in); got != want {
			t.Fatalf("firstSentence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncateAtNaturalBoundary(t *testing.T) {
	short := "hello"
	if got := TruncateAtNaturalBoundary(short, 10); got != short {
		t.Fatalf("expected short text unchanged, got %q", got)
	}

	paragraphCase := strings.Repeat("a", 50) + "\n\n" + strings.Repeat("b", 50)
	got := TruncateAtNaturalBoundary(paragraphCase, len(paragraphCase)-10)
	if len(got) > len(paragraphCase)-10 {
		t.Fatalf("result exceeds maxChars: %d", len(got))
	}
	if strings.Contains(got, "\n\n") {
		t.Fatalf("expected cut before the paragraph boundary, got %q", got)
	}

	hardCase := strings.Repeat("z", 5000)
	got = TruncateAtNaturalBoundary(hardCase, 4000)
	if len(got) != 4000 {
		t.Fatalf("expected hard truncation to exactly maxChars, got %d", len(got))
	}
}
