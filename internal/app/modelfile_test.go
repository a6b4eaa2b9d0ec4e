package app

import (
	"strings"
	"testing"

	"github.com/tutu-network/modelctl/internal/domain"
)

func TestParseModelfile_Basic(t *testing.T) {
	input := `FROM /models/blobs/sha256-aaaa
PARAMETER temperature 0.8
PARAMETER top_p 0.9
SYSTEM "You are a helpful assistant."
`
	mf, err := ParseModelfile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseModelfile() error: %v", err)
	}

	if len(mf.From) != 1 || mf.From[0] != "/models/blobs/sha256-aaaa" {
		t.Errorf("From = %q", mf.From)
	}
	if len(mf.Parameters) != 2 {
		t.Fatalf("len(Parameters) = %d, want 2", len(mf.Parameters))
	}
	if p := mf.Parameters[0]; p.Key != "temperature" || p.Value != "0.8" {
		t.Errorf("Parameters[0] = %+v", p)
	}
	if mf.System != "You are a helpful assistant." {
		t.Errorf("System = %q, want %q", mf.System, "You are a helpful assistant.")
	}
}

func TestParseModelfile_MultiLineSystem(t *testing.T) {
	input := `FROM llama3.2
SYSTEM """
You are a pirate.
Always answer in pirate speak.
"""
`
	mf, err := ParseModelfile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseModelfile() error: %v", err)
	}

	if !strings.Contains(mf.System, "pirate speak") {
		t.Errorf("System should contain 'pirate speak', got %q", mf.System)
	}
}

func TestParseModelfile_InlineTripleQuotes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"single line", "TEMPLATE \"\"\"{{ .Prompt }}\"\"\"\n", "{{ .Prompt }}"},
		{"closes on last line", "TEMPLATE \"\"\"{{ .System }}\n{{ .Prompt }}\"\"\"\n", "{{ .System }}\n{{ .Prompt }}"},
		{"trailing newline kept", "TEMPLATE \"\"\"a\nb\n\"\"\"\n", "a\nb\n"},
		{"unterminated", "TEMPLATE \"\"\"a\nb", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mf, err := ParseModelfile(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ParseModelfile() error: %v", err)
			}
			if mf.Template != tt.want {
				t.Errorf("Template = %q, want %q", mf.Template, tt.want)
			}
		})
	}
}

func TestParseModelfile_Adapters(t *testing.T) {
	input := `FROM llama3
ADAPTER ./fine-tuned.bin
ADAPTER ./second.bin
`
	mf, err := ParseModelfile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseModelfile() error: %v", err)
	}

	if len(mf.Adapters) != 2 || mf.Adapters[1] != "./second.bin" {
		t.Errorf("Adapters = %q", mf.Adapters)
	}
}

func TestParseModelfile_Messages(t *testing.T) {
	input := `FROM llama3
MESSAGE user What is water?
MESSAGE assistant Water is H2O.
`
	mf, err := ParseModelfile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseModelfile() error: %v", err)
	}

	if len(mf.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(mf.Messages))
	}
	if mf.Messages[0].Role != "user" || mf.Messages[0].Content != "What is water?" {
		t.Errorf("Messages[0] = %+v, unexpected", mf.Messages[0])
	}
	if mf.Messages[1].Role != "assistant" || mf.Messages[1].Content != "Water is H2O." {
		t.Errorf("Messages[1] = %+v, unexpected", mf.Messages[1])
	}
}

func TestParseModelfile_MultiLineMessage(t *testing.T) {
	input := "FROM llama3\n" +
		"MESSAGE\tuser \"\"\"Line one\nline two\"\"\"\n" +
		"MESSAGE assistant \"\"\"Done.\"\"\"\n" +
		"MESSAGE lonely\n"
	mf, err := ParseModelfile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseModelfile() error: %v", err)
	}

	if len(mf.Messages) != 2 {
		t.Fatalf("Messages = %+v, want 2", mf.Messages)
	}
	if mf.Messages[0].Role != "user" || mf.Messages[0].Content != "Line one\nline two" {
		t.Errorf("Messages[0] = %+v", mf.Messages[0])
	}
	if mf.Messages[1].Content != "Done." {
		t.Errorf("Messages[1] = %+v", mf.Messages[1])
	}
}

func TestParseModelfile_TabSeparated(t *testing.T) {
	input := "FROM\t/m/blobs/sha256-abc\nADAPTER \t ./lora.bin\nPARAMETER\tnum_ctx\t4096\n"
	mf, err := ParseModelfile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseModelfile() error: %v", err)
	}

	if len(mf.From) != 1 || mf.From[0] != "/m/blobs/sha256-abc" {
		t.Errorf("From = %q", mf.From)
	}
	if len(mf.Adapters) != 1 || mf.Adapters[0] != "./lora.bin" {
		t.Errorf("Adapters = %q", mf.Adapters)
	}
	if len(mf.Parameters) != 1 || mf.Parameters[0] != (domain.Parameter{Key: "num_ctx", Value: "4096"}) {
		t.Errorf("Parameters = %+v", mf.Parameters)
	}
	want := []BlobLine{{Value: "/m/blobs/sha256-abc"}, {Adapter: true, Value: "./lora.bin"}}
	if len(mf.Blobs) != 2 || mf.Blobs[0] != want[0] || mf.Blobs[1] != want[1] {
		t.Errorf("Blobs = %+v, want %+v", mf.Blobs, want)
	}
}

func TestParseModelfile_License(t *testing.T) {
	input := `FROM llama3
LICENSE """
MIT License
Copyright 2024
"""
`
	mf, err := ParseModelfile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseModelfile() error: %v", err)
	}

	if !strings.Contains(mf.License, "MIT License") {
		t.Errorf("License should contain 'MIT License', got %q", mf.License)
	}
}

func TestParseModelfile_CommentsAndBlanks(t *testing.T) {
	input := `# Modelfile generated by "ollama show"
FROM llama3

# Another comment
PARAMETER temperature 0.5
`
	mf, err := ParseModelfile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseModelfile() error: %v", err)
	}

	if len(mf.From) != 1 || mf.From[0] != "llama3" {
		t.Errorf("From = %q, want [llama3]", mf.From)
	}
}

func TestParseModelfile_MultipleStopTokens(t *testing.T) {
	input := `FROM llama3
PARAMETER stop <|end|>
PARAMETER stop <|user|>
PARAMETER stop <|system|>
`
	mf, err := ParseModelfile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseModelfile() error: %v", err)
	}

	stops := 0
	for _, p := range mf.Parameters {
		if p.Key == "stop" {
			stops++
		}
	}
	if stops != 3 {
		t.Errorf("stop count = %d, want 3", stops)
	}
}

func TestParseParameterLines(t *testing.T) {
	input := "stop                           \"<|im_start|>\"\n" +
		"stop                           \"<|im_end|>\"\n" +
		"temperature                    0.7\n" +
		"\n" +
		"garbage\n"
	got := ParseParameterLines(input)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3: %v", len(got), got)
	}
	if got[0].Key != "stop" || got[0].Value != `"<|im_start|>"` {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[2].Key != "temperature" || got[2].Value != "0.7" {
		t.Errorf("got[2] = %+v", got[2])
	}
}
