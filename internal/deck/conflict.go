// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// ConflictType classifies why an incoming record clashes with a stored one.
type ConflictType string

const (
	// ConflictDuplicateID: an incoming record reuses a stored record's id.
	ConflictDuplicateID ConflictType = "duplicate_id"
	// ConflictDuplicateContent: an incoming card has a distinct id but the
	// same content as a stored card.
	ConflictDuplicateContent ConflictType = "duplicate_content"
	// ConflictNameCollision: an incoming tag's name matches a stored tag's
	// name case-insensitively under a different id.
	ConflictNameCollision ConflictType = "name_collision"
)

// ResolutionStrategy is the caller's decision for one conflict.
type ResolutionStrategy string

const (
	ResolveSkip      ResolutionStrategy = "skip"      // drop the incoming record
	ResolveRename    ResolutionStrategy = "rename"    // give the incoming record a fresh id/name
	ResolveOverwrite ResolutionStrategy = "overwrite" // incoming record replaces the stored one
)

// Conflict categories mirror the import payload sections.
const (
	CategoryCards    = "cards"
	CategoryTags     = "tags"
	CategoryDomains  = "domains"
	CategorySettings = "settings"
)

// Conflict describes one clash between the import payload and stored data.
// Existing and Incoming carry the two records the resolution chooses between,
// so a caller can show them side by side. Key() identifies the conflict when
// supplying resolutions.
type Conflict struct {
	Category   string             `json:"category"`
	Type       ConflictType       `json:"type"`
	IncomingID string             `json:"incomingId"`
	ExistingID string             `json:"existingId"`
	Existing   any                `json:"existing,omitempty"`
	Incoming   any                `json:"incoming,omitempty"`
	Detail     string             `json:"detail,omitempty"`
	Suggested  ResolutionStrategy `json:"suggested"`
}

// Key is the stable identifier used to match a resolution to its conflict.
func (c Conflict) Key() string {
	return c.Category + "/" + c.IncomingID
}

// AppliedResolution records what Apply actually did with one conflict,
// including the replacement id a rename produced.
type AppliedResolution struct {
	Conflict Conflict           `json:"conflict"`
	Strategy ResolutionStrategy `json:"strategy"`
	NewID    string             `json:"newId,omitempty"`
}

// Resolver detects conflicts between an import payload and the stored state
// and rewrites the payload according to per-conflict strategies. Detection is
// pure and deterministic: the same inputs always produce the same conflicts
// in the same order.
type Resolver struct {
	log zerolog.Logger
}

func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{log: logger}
}

// cardContentHash fingerprints a card's learnable content. Scheduling state,
// tags and timestamps deliberately do not contribute: two cards teaching the
// same thing are duplicates no matter their history.
func cardContentHash(c *Card) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(c.Front)))
	h.Write([]byte{0x1f})
	h.Write([]byte(strings.TrimSpace(c.Back)))
	h.Write([]byte{0x1f})
	h.Write([]byte(c.Type))
	for _, d := range c.Deletions {
		h.Write([]byte{0x1f})
		h.Write([]byte(strings.TrimSpace(d.Answer)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SuggestedResolution is the default strategy per conflict type: content
// duplicates are almost always re-imports (skip), id reuse usually means two
// genuinely different records (rename), and so do tag name collisions.
func SuggestedResolution(t ConflictType, category string) ResolutionStrategy {
	if category == CategorySettings || category == CategoryDomains {
		return ResolveOverwrite
	}
	switch t {
	case ConflictDuplicateContent:
		return ResolveSkip
	case ConflictDuplicateID, ConflictNameCollision:
		return ResolveRename
	default:
		return ResolveOverwrite
	}
}

// DetectAll reports every conflict between the stored state (viewed through a
// snapshot) and the incoming payload, sorted by category then incoming id.
func (r *Resolver) DetectAll(existing *Snapshot, incoming *ImportData) []Conflict {
	var conflicts []Conflict
	conflicts = append(conflicts, r.DetectCardConflicts(existing.Cards, incoming.Cards)...)
	conflicts = append(conflicts, r.DetectTagConflicts(existing.Tags, incoming.Tags)...)
	conflicts = append(conflicts, r.DetectDomainConflicts(existing.Domains, incoming.Domains)...)
	conflicts = append(conflicts, r.DetectSettingsConflicts(existing.Settings, incoming.Settings)...)
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Category != conflicts[j].Category {
			return conflicts[i].Category < conflicts[j].Category
		}
		return conflicts[i].IncomingID < conflicts[j].IncomingID
	})
	return conflicts
}

// DetectCardConflicts reports id clashes first; a card whose id already
// clashes is not additionally reported as a content duplicate.
func (r *Resolver) DetectCardConflicts(existing map[string]*Card, incoming map[string]*Card) []Conflict {
	if len(incoming) == 0 {
		return nil
	}
	byHash := make(map[string]string, len(existing))
	for id, c := range existing {
		byHash[cardContentHash(c)] = id
	}

	var conflicts []Conflict
	for id, c := range incoming {
		if stored, ok := existing[id]; ok {
			conflicts = append(conflicts, Conflict{
				Category:   CategoryCards,
				Type:       ConflictDuplicateID,
				IncomingID: id,
				ExistingID: id,
				Existing:   stored,
				Incoming:   c,
				Suggested:  SuggestedResolution(ConflictDuplicateID, CategoryCards),
			})
			continue
		}
		if existingID, ok := byHash[cardContentHash(c)]; ok {
			conflicts = append(conflicts, Conflict{
				Category:   CategoryCards,
				Type:       ConflictDuplicateContent,
				IncomingID: id,
				ExistingID: existingID,
				Existing:   existing[existingID],
				Incoming:   c,
				Detail:     "identical front/back content",
				Suggested:  SuggestedResolution(ConflictDuplicateContent, CategoryCards),
			})
		}
	}
	return conflicts
}

// DetectTagConflicts reports id reuse and case-insensitive name collisions.
func (r *Resolver) DetectTagConflicts(existing map[string]*Tag, incoming map[string]*Tag) []Conflict {
	if len(incoming) == 0 {
		return nil
	}
	byName := make(map[string]string, len(existing))
	for id, t := range existing {
		byName[strings.ToLower(t.Name)] = id
	}

	var conflicts []Conflict
	for id, t := range incoming {
		if stored, ok := existing[id]; ok {
			conflicts = append(conflicts, Conflict{
				Category:   CategoryTags,
				Type:       ConflictDuplicateID,
				IncomingID: id,
				ExistingID: id,
				Existing:   stored,
				Incoming:   t,
				Suggested:  SuggestedResolution(ConflictDuplicateID, CategoryTags),
			})
			continue
		}
		if existingID, ok := byName[strings.ToLower(t.Name)]; ok {
			conflicts = append(conflicts, Conflict{
				Category:   CategoryTags,
				Type:       ConflictNameCollision,
				IncomingID: id,
				ExistingID: existingID,
				Existing:   existing[existingID],
				Incoming:   t,
				Detail:     fmt.Sprintf("name %q already taken", t.Name),
				Suggested:  SuggestedResolution(ConflictNameCollision, CategoryTags),
			})
		}
	}
	return conflicts
}

// DetectDomainConflicts reports key reuse. Domains are keyed by the domain
// string itself, so the only possible clash is an id clash, and the sensible
// default is replacing the stored rule.
func (r *Resolver) DetectDomainConflicts(existing map[string]*Domain, incoming map[string]*Domain) []Conflict {
	if len(incoming) == 0 {
		return nil
	}
	var conflicts []Conflict
	for key, d := range incoming {
		if stored, ok := existing[key]; ok {
			conflicts = append(conflicts, Conflict{
				Category:   CategoryDomains,
				Type:       ConflictDuplicateID,
				IncomingID: key,
				ExistingID: key,
				Existing:   stored,
				Incoming:   d,
				Suggested:  SuggestedResolution(ConflictDuplicateID, CategoryDomains),
			})
		}
	}
	return conflicts
}

// DetectSettingsConflicts always reports when the payload carries settings:
// the stored singleton exists (or defaults do), so an import is always a
// replacement and the caller should decide it knowingly.
func (r *Resolver) DetectSettingsConflicts(existing *GlobalSettings, incoming *GlobalSettings) []Conflict {
	if incoming == nil {
		return nil
	}
	c := Conflict{
		Category:   CategorySettings,
		Type:       ConflictDuplicateID,
		IncomingID: settingsKey,
		ExistingID: settingsKey,
		Incoming:   incoming,
		Detail:     "settings are a singleton",
		Suggested:  SuggestedResolution(ConflictDuplicateID, CategorySettings),
	}
	if existing != nil {
		c.Existing = existing
	}
	return []Conflict{c}
}

// GenerateUniqueID derives a fresh id from base that is absent from taken,
// using the category's suffix convention. The probe sequence is
// deterministic, so re-running a resolution yields the same ids.
func GenerateUniqueID(category, base string, taken map[string]bool) string {
	var format string
	switch category {
	case CategoryCards:
		format = "%s_imported_%d"
	case CategoryDomains:
		format = "%s-%d"
	default:
		format = "%s_%d"
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf(format, base, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

// Apply rewrites the incoming payload per the chosen strategies and returns
// the sanitized payload ready to write, plus a record of what was done.
// Conflicts absent from resolutions fall back to their suggested strategy.
// Renames degrade to overwrite for domains and settings, where the id is the
// identity.
func (r *Resolver) Apply(existing *Snapshot, incoming *ImportData, resolutions map[string]ResolutionStrategy) (*ImportData, []AppliedResolution, error) {
	conflicts := r.DetectAll(existing, incoming)

	out := &ImportData{Settings: incoming.Settings}
	out.Cards = cloneMap(incoming.Cards)
	out.Tags = cloneMap(incoming.Tags)
	out.Domains = cloneMap(incoming.Domains)

	takenCardIDs := make(map[string]bool, len(existing.Cards)+len(out.Cards))
	for id := range existing.Cards {
		takenCardIDs[id] = true
	}
	for id := range out.Cards {
		takenCardIDs[id] = true
	}
	takenTagNames := make(map[string]bool, len(existing.Tags)+len(out.Tags))
	for _, t := range existing.Tags {
		takenTagNames[strings.ToLower(t.Name)] = true
	}
	for _, t := range out.Tags {
		takenTagNames[strings.ToLower(t.Name)] = true
	}

	var applied []AppliedResolution
	for _, c := range conflicts {
		strategy, ok := resolutions[c.Key()]
		if !ok {
			strategy = c.Suggested
		}
		if strategy == ResolveRename &&
			(c.Category == CategoryDomains || c.Category == CategorySettings) {
			strategy = ResolveOverwrite
		}

		rec := AppliedResolution{Conflict: c, Strategy: strategy}
		switch c.Category {
		case CategoryCards:
			card, ok := out.Cards[c.IncomingID]
			if !ok {
				continue
			}
			switch strategy {
			case ResolveSkip:
				delete(out.Cards, c.IncomingID)
			case ResolveRename:
				clone := *card
				newID := GenerateUniqueID(CategoryCards, c.IncomingID, takenCardIDs)
				clone.ID = newID
				takenCardIDs[newID] = true
				delete(out.Cards, c.IncomingID)
				out.Cards[newID] = &clone
				rec.NewID = newID
			case ResolveOverwrite:
				// Incoming record keeps its id and replaces the stored one.
			default:
				return nil, nil, fmt.Errorf("%w: unknown strategy %q for %s", ErrInvalidRecord, strategy, c.Key())
			}

		case CategoryTags:
			tag, ok := out.Tags[c.IncomingID]
			if !ok {
				continue
			}
			switch strategy {
			case ResolveSkip:
				delete(out.Tags, c.IncomingID)
			case ResolveRename:
				clone := *tag
				if c.Type == ConflictDuplicateID {
					newID := GenerateUniqueID(CategoryTags, c.IncomingID, tagIDsTaken(existing.Tags, out.Tags))
					delete(out.Tags, c.IncomingID)
					clone.ID = newID
					rec.NewID = newID
				}
				if takenTagNames[strings.ToLower(clone.Name)] {
					newName := uniqueTagName(clone.Name, takenTagNames)
					clone.Name = newName
					takenTagNames[strings.ToLower(newName)] = true
					if rec.NewID == "" {
						rec.NewID = newName
					}
				}
				out.Tags[clone.ID] = &clone
			case ResolveOverwrite:
			default:
				return nil, nil, fmt.Errorf("%w: unknown strategy %q for %s", ErrInvalidRecord, strategy, c.Key())
			}

		case CategoryDomains:
			if strategy == ResolveSkip {
				delete(out.Domains, c.IncomingID)
			}

		case CategorySettings:
			if strategy == ResolveSkip {
				out.Settings = nil
			}
		}
		applied = append(applied, rec)
		r.log.Debug().
			Str("conflict", c.Key()).
			Str("type", string(c.Type)).
			Str("strategy", string(strategy)).
			Str("newId", rec.NewID).
			Msg("conflict resolved")
	}
	return out, applied, nil
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func tagIDsTaken(existing, incoming map[string]*Tag) map[string]bool {
	taken := make(map[string]bool, len(existing)+len(incoming))
	for id := range existing {
		taken[id] = true
	}
	for id := range incoming {
		taken[id] = true
	}
	return taken
}

// uniqueTagName probes name_1, name_2, ... against the case-folded taken
// set, since tag names collide case-insensitively.
func uniqueTagName(base string, takenLower map[string]bool) string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		if !takenLower[strings.ToLower(candidate)] {
			return candidate
		}
	}
}
