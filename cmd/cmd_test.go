package cmd

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/smart-pos/pkg/emv"
	"github.com/gregLibert/smart-pos/pkg/tlv"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestField55Build(t *testing.T) {
	const cardTags = "5A0847617390010100105F24032712319F36020001"
	at := time.Date(2026, 10, 16, 14, 30, 5, 0, time.UTC)

	tags, err := tlv.ParseHex(cardTags)
	if err != nil {
		t.Fatal(err)
	}
	want, err := emv.BuildField55(tags, emv.Field55Request{
		Amount:          150000,
		Currency:        "VND",
		TransactionType: "SALE",
		TerminalID:      "T1",
		Time:            at,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := execute(t, "field55", "build", "--tags", cardTags, "--amount", "150000",
		"--terminal", "T1", "--at", at.Format(time.RFC3339))
	if err != nil {
		t.Fatalf("field55 build error = %v", err)
	}
	if diff := cmp.Diff(want, strings.TrimSpace(got)); diff != "" {
		t.Errorf("Mismatch (-want +got):\n%s", diff)
	}
}

func TestField55Parse(t *testing.T) {
	got, err := execute(t, "field55", "parse", "9C01009F02060000150000005F2A020704")
	if err != nil {
		t.Fatalf("field55 parse error = %v", err)
	}
	want := "9C    00\n9F02  000015000000\n5F2A  0704\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Mismatch (-want +got):\n%s", diff)
	}
}

func TestField55CardSources(t *testing.T) {
	if _, err := field55Card("", "", ""); err == nil {
		t.Error("expected error without a card source")
	}
	if _, err := field55Card("5A01", `{"emvTags":{}}`, ""); err == nil {
		t.Error("expected error with two card sources")
	}
	card, err := field55Card("", `{"emvTags":{"5A":"4761739001010010"}}`, "")
	if err != nil {
		t.Fatalf("card json error = %v", err)
	}
	if card.PAN != "4761739001010010" {
		t.Errorf("PAN = %q", card.PAN)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smartpos.yaml")
	out, err := execute(t, "config", "init", path)
	if err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if want := "wrote " + path + "\n"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
	if _, err := execute(t, "config", "init", path); err == nil {
		t.Error("expected error when the file exists")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(slog.LevelWarn, "json", &buf).Info("hidden")
	newLogger(slog.LevelWarn, "json", &buf).Warn("shown", "k", 1)

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "hidden") || !strings.Contains(line, `"msg":"shown"`) || !strings.Contains(line, `"k":1`) {
		t.Errorf("log output = %s", line)
	}
}
