// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package deck is the storage core of arc-recall: a versioned SQLite-backed
// store for flashcards, tags, domain-blocking rules, settings and review
// history, with conflict-aware import and snapshot rollback.
package deck

import (
	"github.com/mtreilly/arc-recall/internal/srs"
)

// CardType distinguishes front/back cards from cloze-deletion cards.
type CardType string

const (
	CardTypeBasic CardType = "basic"
	CardTypeCloze CardType = "cloze"
)

// ClozeDeletion is one hidden-answer slot within a cloze card. Each deletion
// carries independent scheduling state, so a single cloze card can have
// several due dates.
type ClozeDeletion struct {
	Index     int       `json:"index" yaml:"index"`
	Answer    string    `json:"answer" yaml:"answer"`
	Algorithm srs.State `json:"algorithm" yaml:"algorithm"`
}

// Card is a single learning unit. Tags reference Tag records by name, not by
// id; the manager keeps that reference valid (see Manager.EnsureTagsExist and
// Manager.DeleteTag).
type Card struct {
	ID         string          `json:"id" yaml:"id"`
	Type       CardType        `json:"type" yaml:"type"`
	Front      string          `json:"front" yaml:"front"`
	Back       string          `json:"back" yaml:"back"`
	Tags       []string        `json:"tags,omitempty" yaml:"tags,omitempty"`
	Draft      bool            `json:"draft,omitempty" yaml:"draft,omitempty"`
	SourceText string          `json:"sourceText,omitempty" yaml:"sourceText,omitempty"`
	Deletions  []ClozeDeletion `json:"deletions,omitempty" yaml:"deletions,omitempty"`
	Algorithm  srs.State       `json:"algorithm" yaml:"algorithm"`
	CreatedAt  int64           `json:"createdAt" yaml:"createdAt"`   // unix ms
	ModifiedAt int64           `json:"modifiedAt" yaml:"modifiedAt"` // unix ms
}

// EffectiveDueDate is the due date used for sorting and the due_at index
// column. Derivation is delegated to the srs collaborator.
func (c *Card) EffectiveDueDate() int64 {
	states := make([]srs.State, 0, len(c.Deletions))
	for _, d := range c.Deletions {
		states = append(states, d.Algorithm)
	}
	return srs.EffectiveDueDate(c.Algorithm, states)
}

// IsDue reports whether the card is reviewable at the given instant. Basic
// cards consult their own state; cloze cards are due when any deletion is.
func (c *Card) IsDue(nowMillis int64) bool {
	if c.Type == CardTypeCloze && len(c.Deletions) > 0 {
		for _, d := range c.Deletions {
			if srs.IsDue(d.Algorithm, nowMillis) {
				return true
			}
		}
		return false
	}
	return srs.IsDue(c.Algorithm, nowMillis)
}

// Tag is the source of truth for tag identity. Names are unique
// case-insensitively.
type Tag struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Color     string `json:"color" yaml:"color"`
	CreatedAt int64  `json:"createdAt" yaml:"createdAt"`
}

// Domain is a blocking rule, keyed by the domain string itself.
type Domain struct {
	Domain            string `json:"domain" yaml:"domain"`
	CooldownMinutes   int    `json:"cooldownMinutes" yaml:"cooldownMinutes"`
	Active            bool   `json:"active" yaml:"active"`
	LastUnblockedAt   int64  `json:"lastUnblockedAt,omitempty" yaml:"lastUnblockedAt,omitempty"` // unix ms, 0 = never
	IncludeSubdomains bool   `json:"includeSubdomains" yaml:"includeSubdomains"`
	CreatedAt         int64  `json:"createdAt" yaml:"createdAt"`
	ModifiedAt        int64  `json:"modifiedAt" yaml:"modifiedAt"`
}

// BlockedAt derives the blocked state; it is never stored. A rule blocks
// while active and either never unblocked or still inside the cooldown
// window that an unblock starts.
func (d *Domain) BlockedAt(nowMillis int64) bool {
	if !d.Active {
		return false
	}
	if d.LastUnblockedAt == 0 {
		return true
	}
	return nowMillis < d.LastUnblockedAt+int64(d.CooldownMinutes)*60_000
}

// GlobalSettings is the singleton settings record (fixed key "global").
type GlobalSettings struct {
	CooldownMinutes    int    `json:"cooldownMinutes" yaml:"cooldownMinutes"`
	MaxCardsPerSession int    `json:"maxCardsPerSession" yaml:"maxCardsPerSession"`
	Theme              string `json:"theme" yaml:"theme"`
	DailyGoal          int    `json:"dailyGoal" yaml:"dailyGoal"`
	WeekStart          string `json:"weekStart" yaml:"weekStart"` // "monday" or "sunday"
	AutoAdvanceSeconds int    `json:"autoAdvanceSeconds" yaml:"autoAdvanceSeconds"`
	BackupScope        string `json:"backupScope" yaml:"backupScope"` // "cards" or "full"
}

// ResponseDifficulty buckets a review answer.
type ResponseDifficulty string

const (
	DifficultyAgain ResponseDifficulty = "again"
	DifficultyHard  ResponseDifficulty = "hard"
	DifficultyGood  ResponseDifficulty = "good"
	DifficultyEasy  ResponseDifficulty = "easy"
)

// CardResponse is one append-only review log entry. Responses are immutable
// and never deleted; removing them would corrupt the scheduling history.
type CardResponse struct {
	ID             string             `json:"id" yaml:"id"`
	CardID         string             `json:"cardId" yaml:"cardId"`
	AnsweredAt     int64              `json:"answeredAt" yaml:"answeredAt"` // unix ms
	Difficulty     ResponseDifficulty `json:"difficulty" yaml:"difficulty"`
	ResponseTimeMs int64              `json:"responseTimeMs" yaml:"responseTimeMs"`
	Correct        bool               `json:"correct" yaml:"correct"`
}

// StorageStats is the persisted rough census written by Manager.UpdateStats.
// It is informational; quota decisions use the monitor's live estimate.
type StorageStats struct {
	CardCount      int   `json:"cardCount" yaml:"cardCount"`
	TagCount       int   `json:"tagCount" yaml:"tagCount"`
	DomainCount    int   `json:"domainCount" yaml:"domainCount"`
	ResponseCount  int   `json:"responseCount" yaml:"responseCount"`
	EstimatedBytes int64 `json:"estimatedBytes" yaml:"estimatedBytes"`
	UpdatedAt      int64 `json:"updatedAt" yaml:"updatedAt"`
}

// Snapshot is a full point-in-time copy of the core entities, taken before
// every import and kept for manual recovery.
type Snapshot struct {
	ID        string             `json:"id" yaml:"id"`
	CreatedAt int64              `json:"createdAt" yaml:"createdAt"`
	Reason    string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Cards     map[string]*Card   `json:"cards" yaml:"cards"`
	Tags      map[string]*Tag    `json:"tags" yaml:"tags"`
	Domains   map[string]*Domain `json:"domains" yaml:"domains"`
	Settings  *GlobalSettings    `json:"globalSettings,omitempty" yaml:"globalSettings,omitempty"`
	Stats     *StorageStats      `json:"stats,omitempty" yaml:"stats,omitempty"`
}

// SnapshotInfo is the listing view of a persisted snapshot.
type SnapshotInfo struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	Reason    string `json:"reason,omitempty"`
	CardCount int    `json:"cardCount"`
	TagCount  int    `json:"tagCount"`
}

// ImportData is the import payload shape: every category is optional and
// keyed by entity id (domains by domain string). An absent category is left
// untouched.
type ImportData struct {
	Cards    map[string]*Card   `json:"cards,omitempty" yaml:"cards,omitempty"`
	Tags     map[string]*Tag    `json:"tags,omitempty" yaml:"tags,omitempty"`
	Domains  map[string]*Domain `json:"domains,omitempty" yaml:"domains,omitempty"`
	Settings *GlobalSettings    `json:"globalSettings,omitempty" yaml:"globalSettings,omitempty"`
}

// CardPatch is a partial card update; nil fields are left unchanged.
type CardPatch struct {
	Type       *CardType        `json:"type,omitempty"`
	Front      *string          `json:"front,omitempty"`
	Back       *string          `json:"back,omitempty"`
	Tags       *[]string        `json:"tags,omitempty"`
	Draft      *bool            `json:"draft,omitempty"`
	SourceText *string          `json:"sourceText,omitempty"`
	Deletions  *[]ClozeDeletion `json:"deletions,omitempty"`
	Algorithm  *srs.State       `json:"algorithm,omitempty"`
}

// SettingsPatch is a partial settings update; nil fields are left unchanged.
type SettingsPatch struct {
	CooldownMinutes    *int    `json:"cooldownMinutes,omitempty"`
	MaxCardsPerSession *int    `json:"maxCardsPerSession,omitempty"`
	Theme              *string `json:"theme,omitempty"`
	DailyGoal          *int    `json:"dailyGoal,omitempty"`
	WeekStart          *string `json:"weekStart,omitempty"`
	AutoAdvanceSeconds *int    `json:"autoAdvanceSeconds,omitempty"`
	BackupScope        *string `json:"backupScope,omitempty"`
}
