package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/particle"
)

func TestChatLoopPrintsReplies(t *testing.T) {
	replies := []string{
		`{"action":"answer","response":"Lei builds full-stack apps."}`,
		`{"action":"navigate","target":"contact","response":"Opening contact."}`,
	}
	var targets []chat.Target
	model := chat.ModelFunc(func(context.Context, string) (string, error) {
		r := replies[0]
		replies = replies[1:]
		return r, nil
	})
	session := chat.NewSession(model, chat.SessionConfig{
		Navigator: chat.NavigatorFunc(func(t chat.Target) { targets = append(targets, t) }),
	})

	in := strings.NewReader("what does he build?\n\nhow do I reach him?\n/quit\nignored\n")
	var out bytes.Buffer
	if err := chatLoop(context.Background(), in, &out, session); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}

	text := out.String()
	for _, want := range []string{chat.WelcomeMessage, "Lei builds full-stack apps.", "Opening contact."} {
		if !strings.Contains(text, "assistant: "+want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
	if len(targets) != 1 || targets[0] != chat.TargetContact {
		t.Fatalf("unexpected navigation: %v", targets)
	}
	if n := len(session.Messages()); n != 5 {
		t.Fatalf("expected 5 transcript entries, got %d", n)
	}
}

func TestChatLoopStopsWhenBlocked(t *testing.T) {
	model := chat.ModelFunc(func(context.Context, string) (string, error) {
		return `{"action":"warn","response":"Off topic."}`, nil
	})
	session := chat.NewSession(model, chat.SessionConfig{})

	in := strings.NewReader("a\nb\nc\nd\n")
	var out bytes.Buffer
	if err := chatLoop(context.Background(), in, &out, session); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if !session.Blocked() {
		t.Fatal("expected blocked session")
	}
	if !strings.Contains(out.String(), chat.BlockedMessage) {
		t.Fatal("expected the blocked notice to be printed")
	}
}

func TestSimulateWritesFrames(t *testing.T) {
	var out bytes.Buffer
	err := simulate(&out, simulateOptions{count: 3, ticks: 4, width: 300, height: 200, seed: 9, pointer: "150,100"})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	scanner := bufio.NewScanner(&out)
	lines := 0
	for scanner.Scan() {
		var f simulatedFrame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if f.Tick != lines || len(f.Particles) != 3 {
			t.Fatalf("unexpected frame %d: %+v", lines, f)
		}
		lines++
	}
	if lines != 5 {
		t.Fatalf("expected 5 frames, got %d", lines)
	}
}

func TestSimulateIsDeterministic(t *testing.T) {
	opts := simulateOptions{count: 5, ticks: 10, width: 640, height: 480, seed: 42}
	var a, b bytes.Buffer
	if err := simulate(&a, opts); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if err := simulate(&b, opts); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if a.String() != b.String() {
		t.Fatal("expected identical output for the same seed")
	}
}

func TestParsePointer(t *testing.T) {
	if p, err := parsePointer(""); err != nil || p != particle.NoPointer {
		t.Fatalf("empty pointer = %+v, %v", p, err)
	}
	if p, err := parsePointer("10, 20.5"); err != nil || p != particle.At(10, 20.5) {
		t.Fatalf("parsePointer = %+v, %v", p, err)
	}
	if _, err := parsePointer("nope"); err == nil {
		t.Fatal("expected error for malformed pointer")
	}
	if err := simulate(&bytes.Buffer{}, simulateOptions{width: 0, height: 10}); err == nil {
		t.Fatal("expected error for empty viewport")
	}
}
