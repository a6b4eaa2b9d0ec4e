package app

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tutu-network/modelctl/internal/domain"
	"github.com/tutu-network/modelctl/internal/infra/remote"
)

func hexOf(c byte) string { return strings.Repeat(string(c), 64) }

func TestBuildCatalog(t *testing.T) {
	a, b, c, p := hexOf('a'), hexOf('b'), hexOf('c'), hexOf('d')

	tests := []struct {
		name         string
		modelfile    string
		hasProjector bool
		want         []CatalogEntry
	}{
		{
			name:      "single weights file",
			modelfile: "FROM /root/.ollama/models/blobs/sha256-" + a + "\n",
			want: []CatalogEntry{
				{domain.RoleModel, domain.Digest("sha256:" + a), "model.gguf"},
			},
		},
		{
			name: "adapter and duplicate",
			modelfile: "FROM /m/blobs/sha256-" + a + "\n" +
				"ADAPTER /m/blobs/sha256-" + b + "\n" +
				"ADAPTER sha256:" + a + "\n",
			want: []CatalogEntry{
				{domain.RoleModel, domain.Digest("sha256:" + a), "model.gguf"},
				{domain.RoleAdapter, domain.Digest("sha256:" + b), "adapter.gguf"},
			},
		},
		{
			name: "projector is last FROM",
			modelfile: "FROM /m/blobs/sha256-" + a + "\n" +
				"FROM /m/blobs/sha256-" + c + "\n" +
				"FROM /m/blobs/sha256-" + p + "\n",
			hasProjector: true,
			want: []CatalogEntry{
				{domain.RoleModel, domain.Digest("sha256:" + a), "model.gguf"},
				{domain.RoleModel, domain.Digest("sha256:" + c), "model_1.gguf"},
				{domain.RoleProjector, domain.Digest("sha256:" + p), "projector.gguf"},
			},
		},
		{
			name:         "projector needs two FROM digests",
			modelfile:    "FROM /m/blobs/sha256-" + a + "\n",
			hasProjector: true,
			want: []CatalogEntry{
				{domain.RoleModel, domain.Digest("sha256:" + a), "model.gguf"},
			},
		},
		{
			name: "malformed lines skipped",
			modelfile: "FROM llama3\n" +
				"FROM /m/blobs/sha256-tooshort\n" +
				"FROM\n" +
				"FROM /m/blobs/sha256-" + b + "\n",
			want: []CatalogEntry{
				{domain.RoleModel, domain.Digest("sha256:" + b), "model.gguf"},
			},
		},
		{
			name: "text order across directives",
			modelfile: "ADAPTER /m/blobs/sha256-" + a + "\n" +
				"FROM /m/blobs/sha256-" + b + "\n",
			want: []CatalogEntry{
				{domain.RoleAdapter, domain.Digest("sha256:" + a), "adapter.gguf"},
				{domain.RoleModel, domain.Digest("sha256:" + b), "model.gguf"},
			},
		},
		{
			name: "projector is last FROM even after an adapter",
			modelfile: "FROM /m/blobs/sha256-" + a + "\n" +
				"FROM /m/blobs/sha256-" + p + "\n" +
				"ADAPTER /m/blobs/sha256-" + b + "\n",
			hasProjector: true,
			want: []CatalogEntry{
				{domain.RoleModel, domain.Digest("sha256:" + a), "model.gguf"},
				{domain.RoleProjector, domain.Digest("sha256:" + p), "projector.gguf"},
				{domain.RoleAdapter, domain.Digest("sha256:" + b), "adapter.gguf"},
			},
		},
		{
			name:      "tab after directive",
			modelfile: "FROM\t/m/blobs/sha256-" + c + "\n",
			want: []CatalogEntry{
				{domain.RoleModel, domain.Digest("sha256:" + c), "model.gguf"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mf, err := ParseModelfile(strings.NewReader(tt.modelfile))
			if err != nil {
				t.Fatalf("ParseModelfile() error: %v", err)
			}
			got, err := BuildCatalog("m", mf, tt.hasProjector)
			if err != nil {
				t.Fatalf("BuildCatalog() error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("BuildCatalog() = %+v, want %+v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("entry[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuildCatalog_NoBlobs(t *testing.T) {
	mf, _ := ParseModelfile(strings.NewReader("FROM llama3\nSYSTEM hi\n"))
	_, err := BuildCatalog("llama3", mf, false)

	var pe *domain.ParseError
	if !errors.As(err, &pe) || !errors.Is(err, domain.ErrNoBlobsFound) {
		t.Fatalf("BuildCatalog() = %v, want ParseError wrapping ErrNoBlobsFound", err)
	}
	if pe.Model != "llama3" {
		t.Errorf("ParseError.Model = %q", pe.Model)
	}
}

func TestDescribeRemote_Parameters(t *testing.T) {
	modelfile := "FROM /m/blobs/sha256-" + hexOf('a') + "\nPARAMETER num_ctx 2048\n"

	tests := []struct {
		name string
		raw  string
		want []domain.Parameter
	}{
		{
			name: "string form",
			raw:  `"stop    \"<|im_end|>\"\ntemperature    0.7"`,
			want: []domain.Parameter{{Key: "stop", Value: `"<|im_end|>"`}, {Key: "temperature", Value: "0.7"}},
		},
		{
			name: "object form",
			raw:  `{"temperature":0.7,"stop":["a","b"]}`,
			want: []domain.Parameter{{Key: "stop", Value: `"a"`}, {Key: "stop", Value: `"b"`}, {Key: "temperature", Value: "0.7"}},
		},
		{
			name: "absent falls back to Modelfile",
			raw:  ``,
			want: []domain.Parameter{{Key: "num_ctx", Value: "2048"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			show := &remote.ShowResponse{Modelfile: modelfile, Parameters: json.RawMessage(tt.raw)}
			info, err := DescribeRemote("m", show)
			if err != nil {
				t.Fatalf("DescribeRemote() error: %v", err)
			}
			if len(info.Parameters) != len(tt.want) {
				t.Fatalf("Parameters = %v, want %v", info.Parameters, tt.want)
			}
			for i := range tt.want {
				if info.Parameters[i] != tt.want[i] {
					t.Errorf("Parameters[%d] = %v, want %v", i, info.Parameters[i], tt.want[i])
				}
			}
		})
	}
}

func TestSourceInfo_Plan(t *testing.T) {
	show := &remote.ShowResponse{
		Modelfile: "FROM /m/blobs/sha256-" + hexOf('a') + "\n" +
			"TEMPLATE \"\"\"{{ .Prompt }}\"\"\"\n" +
			"ADAPTER /m/blobs/sha256-" + hexOf('b') + "\n" +
			"MESSAGE user hello\n",
		System:  "be brief",
		License: json.RawMessage(`["MIT","Apache-2.0"]`),
	}
	info, err := DescribeRemote("m:latest", show)
	if err != nil {
		t.Fatalf("DescribeRemote() error: %v", err)
	}

	cat, def, err := info.Plan()
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if len(cat) != 2 {
		t.Fatalf("len(catalog) = %d, want 2", len(cat))
	}
	if def.Template != "{{ .Prompt }}" {
		t.Errorf("Template = %q, want Modelfile fallback", def.Template)
	}
	if def.System != "be brief" {
		t.Errorf("System = %q", def.System)
	}
	if def.License != "MIT\nApache-2.0" {
		t.Errorf("License = %q", def.License)
	}
	if def.Files["adapter.gguf"] != domain.Digest("sha256:"+hexOf('b')) {
		t.Errorf("Files = %v", def.Files)
	}
	if len(def.Messages) != 1 || def.Messages[0] != (domain.Message{Role: "user", Content: "hello"}) {
		t.Errorf("Messages = %+v, want Modelfile fallback", def.Messages)
	}
}
