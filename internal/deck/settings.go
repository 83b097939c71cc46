// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"encoding/json"
	"fmt"
)

// defaultSettings returns the complete default settings record. Reads merge
// stored values over this, so a record written by an older build still comes
// back complete.
func defaultSettings() GlobalSettings {
	return GlobalSettings{
		CooldownMinutes:    30,
		MaxCardsPerSession: 20,
		Theme:              "system",
		DailyGoal:          20,
		WeekStart:          "monday",
		AutoAdvanceSeconds: 3,
		BackupScope:        "full",
	}
}

// DefaultDomainCooldownMinutes seeds new blocking rules that do not name
// their own cooldown.
const DefaultDomainCooldownMinutes = 30

// decodeSettingsWithDefaults is total: any stored payload, including one
// missing fields added after it was written, decodes to a complete record.
// Unknown fields are dropped.
func decodeSettingsWithDefaults(payload []byte) (*GlobalSettings, error) {
	s := defaultSettings()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	normalizeSettings(&s)
	return &s, nil
}

// normalizeSettings clamps out-of-range values back to defaults rather than
// failing the read.
func normalizeSettings(s *GlobalSettings) {
	def := defaultSettings()
	if s.CooldownMinutes < 0 {
		s.CooldownMinutes = def.CooldownMinutes
	}
	if s.MaxCardsPerSession <= 0 {
		s.MaxCardsPerSession = def.MaxCardsPerSession
	}
	if s.DailyGoal <= 0 {
		s.DailyGoal = def.DailyGoal
	}
	if s.WeekStart != "monday" && s.WeekStart != "sunday" {
		s.WeekStart = def.WeekStart
	}
	if s.AutoAdvanceSeconds < 0 {
		s.AutoAdvanceSeconds = def.AutoAdvanceSeconds
	}
	if s.BackupScope != "cards" && s.BackupScope != "full" {
		s.BackupScope = def.BackupScope
	}
	if s.Theme == "" {
		s.Theme = def.Theme
	}
}

// mergeSettingsPatch applies non-nil patch fields onto base and reports
// whether the daily goal changed, which invalidates derived streak data.
func mergeSettingsPatch(base *GlobalSettings, patch *SettingsPatch) (dailyGoalChanged bool) {
	if patch == nil {
		return false
	}
	if patch.CooldownMinutes != nil {
		base.CooldownMinutes = *patch.CooldownMinutes
	}
	if patch.MaxCardsPerSession != nil {
		base.MaxCardsPerSession = *patch.MaxCardsPerSession
	}
	if patch.Theme != nil {
		base.Theme = *patch.Theme
	}
	if patch.DailyGoal != nil && *patch.DailyGoal != base.DailyGoal {
		base.DailyGoal = *patch.DailyGoal
		dailyGoalChanged = true
	}
	if patch.WeekStart != nil {
		base.WeekStart = *patch.WeekStart
	}
	if patch.AutoAdvanceSeconds != nil {
		base.AutoAdvanceSeconds = *patch.AutoAdvanceSeconds
	}
	if patch.BackupScope != nil {
		base.BackupScope = *patch.BackupScope
	}
	normalizeSettings(base)
	return dailyGoalChanged
}
