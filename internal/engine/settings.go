package engine

import (
	"sync/atomic"
	"time"
)

// Settings is the tunable policy surface: withdrawal gating, fees, referral
// rates, and display conversion. A snapshot is immutable once published;
// hot reload swaps the whole snapshot so no operation observes a half-applied
// change.
type Settings struct {
	MinWithdrawal     float64        `json:"min_withdrawal"`
	WithdrawWeekdays  []time.Weekday `json:"withdraw_weekdays"`
	WithdrawOpenHour  int            `json:"withdraw_open_hour"`
	WithdrawCloseHour int            `json:"withdraw_close_hour"`
	InstantFeeRate    float64        `json:"instant_fee_rate"`
	ReferralRates     []float64      `json:"referral_rates"`
	DisplayRate       float64        `json:"display_rate"`
}

// DefaultSettings returns the shipped policy values
func DefaultSettings() *Settings {
	return &Settings{
		MinWithdrawal:     10,
		WithdrawWeekdays:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		WithdrawOpenHour:  10,
		WithdrawCloseHour: 17,
		InstantFeeRate:    0.02,
		ReferralRates:     []float64{0.05, 0.03, 0.01, 0.01, 0.01},
		DisplayRate:       1.0,
	}
}

// SettingsHolder publishes settings snapshots atomically
type SettingsHolder struct {
	current atomic.Pointer[Settings]
}

// NewSettingsHolder seeds the holder, falling back to defaults on nil
func NewSettingsHolder(initial *Settings) *SettingsHolder {
	h := &SettingsHolder{}
	if initial == nil {
		initial = DefaultSettings()
	}
	h.current.Store(initial)
	return h
}

// Load returns the current snapshot. Callers must not mutate it.
func (h *SettingsHolder) Load() *Settings {
	return h.current.Load()
}

// Store publishes a new snapshot for subsequent operations
func (h *SettingsHolder) Store(s *Settings) {
	h.current.Store(s)
}

// WithdrawWindowOpen reports whether t falls inside the withdrawal window:
// an allowed weekday with hour in [open, close).
func (s *Settings) WithdrawWindowOpen(t time.Time) bool {
	dayOK := false
	for _, wd := range s.WithdrawWeekdays {
		if t.Weekday() == wd {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	h := t.Hour()
	return h >= s.WithdrawOpenHour && h < s.WithdrawCloseHour
}
