package config

import (
	"log/slog"
	"testing"

	"github.com/spf13/pflag"
)

type fakeCmd struct {
	fs *pflag.FlagSet
}

func (f *fakeCmd) Flags() *pflag.FlagSet { return f.fs }

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Model.Path != "spm.model" {
		t.Errorf("model path = %q, want %q", cfg.Model.Path, "spm.model")
	}
	if cfg.Encode.OutFormat != "piece" {
		t.Errorf("out format = %q, want %q", cfg.Encode.OutFormat, "piece")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadBindsFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())
	if err := fs.Parse([]string{"--model-path", "other.model", "--encode-nbest", "8"}); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: &fakeCmd{fs: fs}, Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Model.Path != "other.model" {
		t.Errorf("model path = %q, want %q", cfg.Model.Path, "other.model")
	}
	if cfg.Encode.NBest != 8 {
		t.Errorf("nbest = %d, want 8", cfg.Encode.NBest)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
