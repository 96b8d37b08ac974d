package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleFunnel = `
tiers:
  - name: vip
    price_cents: 1990
    currency: BRL
    drip_steps:
      - copy: "Your VIP access is waiting"
        media_plan: [video, image, text]
        media_ref: vip_intro
        delay: 10m
      - copy: "Last chance, 25% off today"
        media_plan: [image, text]
        delay: 1h
        discount_cents: 500
sinks:
  - name: utmify
    url: https://api.utmify.example/events
    token: sk_test
    enabled: true
  - name: shadow
    url: ""
    enabled: false
`

func writeFunnel(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "funnel.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write funnel file: %v", err)
	}
	return path
}

func TestLoadCatalog(t *testing.T) {
	c, err := Load(writeFunnel(t, sampleFunnel))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tier, err := c.TierByName("VIP")
	if err != nil {
		t.Fatalf("tier lookup: %v", err)
	}
	if tier.PriceCents != 1990 {
		t.Fatalf("expected price 1990, got %d", tier.PriceCents)
	}

	step, ok := tier.Step(0)
	if !ok {
		t.Fatal("expected step 0")
	}
	if step.Delay != 10*time.Minute {
		t.Fatalf("expected 10m delay, got %s", step.Delay)
	}
	if len(step.MediaPlan) != 3 || step.MediaPlan[0] != MediaKindVideo {
		t.Fatalf("unexpected media plan: %v", step.MediaPlan)
	}

	if _, ok := tier.Step(2); ok {
		t.Fatal("expected no step past the sequence end")
	}

	sinks := c.EnabledSinks()
	if len(sinks) != 1 || sinks[0].Name != "utmify" {
		t.Fatalf("unexpected enabled sinks: %v", sinks)
	}
}

func TestLoadCatalogRejectsEnabledSinkWithoutURL(t *testing.T) {
	body := `
tiers:
  - name: vip
    price_cents: 1990
    drip_steps:
      - copy: "hi"
sinks:
  - name: broken
    enabled: true
`
	if _, err := Load(writeFunnel(t, body)); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSendWindowContains(t *testing.T) {
	at := func(hour, minute int) time.Time {
		return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
	}

	var open *SendWindow
	if !open.Contains(at(3, 0)) {
		t.Fatal("nil window must allow any time")
	}

	day := &SendWindow{From: "09:00", To: "21:00"}
	if !day.Contains(at(9, 0)) || !day.Contains(at(20, 59)) {
		t.Fatal("times inside the window must pass")
	}
	if day.Contains(at(8, 59)) || day.Contains(at(21, 0)) {
		t.Fatal("times outside the window must not pass")
	}

	night := &SendWindow{From: "20:00", To: "08:00"}
	if !night.Contains(at(23, 30)) || !night.Contains(at(6, 0)) {
		t.Fatal("a window crossing midnight must cover both sides")
	}
	if night.Contains(at(12, 0)) {
		t.Fatal("midday is outside an overnight window")
	}
}

func TestLoadCatalogRejectsBadSendWindow(t *testing.T) {
	body := `
tiers:
  - name: vip
    price_cents: 1990
    drip_steps:
      - copy: "hi"
        send_window:
          from: "25:99"
          to: "21:00"
`
	if _, err := Load(writeFunnel(t, body)); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadCatalogRejectsUnknownMediaKind(t *testing.T) {
	body := `
tiers:
  - name: vip
    price_cents: 1990
    drip_steps:
      - copy: "hi"
        media_plan: [hologram]
`
	if _, err := Load(writeFunnel(t, body)); err == nil {
		t.Fatal("expected validation error")
	}
}
