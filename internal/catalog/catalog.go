package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrUnknownTier = errors.New("unknown_tier")
	ErrNoDripSteps = errors.New("tier_has_no_drip_steps")
)

// MediaKind identifies the kind of drip message content.
type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindImage MediaKind = "image"
	MediaKindText  MediaKind = "text"
)

// DripStep is one message in a tier's follow-up sequence. MediaPlan is an
// ordered fallback: the first kind that sends successfully wins.
type DripStep struct {
	Copy          string        `mapstructure:"copy"`
	MediaPlan     []MediaKind   `mapstructure:"media_plan"`
	MediaRef      string        `mapstructure:"media_ref"`
	Delay         time.Duration `mapstructure:"delay"`
	DiscountCents int64         `mapstructure:"discount_cents"`
	SendWindow    *SendWindow   `mapstructure:"send_window"`
}

// SendWindow restricts a step to a local time-of-day range, in the business
// timezone. A window crossing midnight (from 20:00 to 08:00) is valid.
type SendWindow struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// Contains reports whether t's time of day falls inside the window. A nil
// window allows any time.
func (w *SendWindow) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	from, err1 := parseClock(w.From)
	to, err2 := parseClock(w.To)
	if err1 != nil || err2 != nil {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	if from <= to {
		return minute >= from && minute < to
	}
	return minute >= from || minute < to
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Tier describes one subscription offer in the funnel.
type Tier struct {
	Name       string     `mapstructure:"name"`
	PriceCents int64      `mapstructure:"price_cents"`
	Currency   string     `mapstructure:"currency"`
	DripSteps  []DripStep `mapstructure:"drip_steps"`
}

// SinkConfig describes one conversion tracking destination.
type SinkConfig struct {
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Enabled bool   `mapstructure:"enabled"`
}

// Catalog is the funnel definition loaded from the funnel file.
type Catalog struct {
	Tiers []Tier       `mapstructure:"tiers"`
	Sinks []SinkConfig `mapstructure:"sinks"`
}

// Load reads and validates the funnel catalog from path.
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read funnel file: %w", err)
	}

	var c Catalog
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode funnel file: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// TierByName finds a tier by its name.
func (c *Catalog) TierByName(name string) (Tier, error) {
	name = strings.TrimSpace(name)
	for _, tier := range c.Tiers {
		if strings.EqualFold(tier.Name, name) {
			return tier, nil
		}
	}
	return Tier{}, fmt.Errorf("%w: %s", ErrUnknownTier, name)
}

// Step returns the drip step at index for the tier, and whether the sequence
// has a step beyond it.
func (t Tier) Step(index int) (DripStep, bool) {
	if index < 0 || index >= len(t.DripSteps) {
		return DripStep{}, false
	}
	return t.DripSteps[index], true
}

// EnabledSinks returns the sinks that are switched on.
func (c *Catalog) EnabledSinks() []SinkConfig {
	out := make([]SinkConfig, 0, len(c.Sinks))
	for _, sink := range c.Sinks {
		if sink.Enabled {
			out = append(out, sink)
		}
	}
	return out
}

func (c *Catalog) validate() error {
	if len(c.Tiers) == 0 {
		return errors.New("funnel file declares no tiers")
	}
	seen := map[string]struct{}{}
	for i, tier := range c.Tiers {
		name := strings.TrimSpace(tier.Name)
		if name == "" {
			return fmt.Errorf("tier %d has no name", i)
		}
		if _, dup := seen[strings.ToLower(name)]; dup {
			return fmt.Errorf("duplicate tier %q", name)
		}
		seen[strings.ToLower(name)] = struct{}{}
		if tier.PriceCents <= 0 {
			return fmt.Errorf("tier %q has non-positive price", name)
		}
		if len(tier.DripSteps) == 0 {
			return fmt.Errorf("%w: %s", ErrNoDripSteps, name)
		}
		for j, step := range tier.DripSteps {
			if strings.TrimSpace(step.Copy) == "" {
				return fmt.Errorf("tier %q step %d has empty copy", name, j)
			}
			for _, kind := range step.MediaPlan {
				switch kind {
				case MediaKindVideo, MediaKindImage, MediaKindText:
				default:
					return fmt.Errorf("tier %q step %d has unknown media kind %q", name, j, kind)
				}
			}
			if w := step.SendWindow; w != nil {
				if _, err := parseClock(w.From); err != nil {
					return fmt.Errorf("tier %q step %d has invalid send window start %q", name, j, w.From)
				}
				if _, err := parseClock(w.To); err != nil {
					return fmt.Errorf("tier %q step %d has invalid send window end %q", name, j, w.To)
				}
			}
		}
	}
	for i, sink := range c.Sinks {
		if strings.TrimSpace(sink.Name) == "" {
			return fmt.Errorf("sink %d has no name", i)
		}
		if sink.Enabled && strings.TrimSpace(sink.URL) == "" {
			return fmt.Errorf("sink %q is enabled without a url", sink.Name)
		}
	}
	return nil
}
