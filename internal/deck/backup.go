// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backup is the export envelope. Version pins the payload shape so future
// readers can branch on it.
type Backup struct {
	Version    int         `json:"version" yaml:"version"`
	ExportedAt int64       `json:"exportedAt" yaml:"exportedAt"` // unix ms
	Scope      string      `json:"scope" yaml:"scope"`           // "cards" or "full"
	Data       *ImportData `json:"data" yaml:"data"`
}

const backupVersion = 1

// BuildBackup assembles an export of the current state. Scope "cards" covers
// cards and the tags they reference; "full" adds domains and settings.
func BuildBackup(ctx context.Context, db *DB, scope string) (*Backup, error) {
	if scope != "cards" && scope != "full" {
		return nil, fmt.Errorf("%w: backup scope must be \"cards\" or \"full\", got %q", ErrInvalidRecord, scope)
	}

	data := &ImportData{
		Cards: map[string]*Card{},
		Tags:  map[string]*Tag{},
	}
	cards, err := db.GetAllCards(ctx)
	if err != nil {
		return nil, err
	}
	referenced := map[string]bool{}
	for _, c := range cards {
		data.Cards[c.ID] = c
		for _, name := range c.Tags {
			referenced[strings.ToLower(name)] = true
		}
	}
	tags, err := db.GetAllTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if scope == "full" || referenced[strings.ToLower(t.Name)] {
			data.Tags[t.ID] = t
		}
	}

	if scope == "full" {
		data.Domains = map[string]*Domain{}
		domains, err := db.GetAllDomains(ctx, false)
		if err != nil {
			return nil, err
		}
		for _, d := range domains {
			data.Domains[d.Domain] = d
		}
		raw, err := db.GetRawSettings(ctx)
		switch {
		case err == nil:
			s, err := decodeSettingsWithDefaults(raw)
			if err != nil {
				return nil, err
			}
			data.Settings = s
		case errors.Is(err, ErrNotFound):
			// Nothing stored; the export simply omits settings.
		default:
			return nil, err
		}
	}

	return &Backup{
		Version:    backupVersion,
		ExportedAt: time.Now().UnixMilli(),
		Scope:      scope,
		Data:       data,
	}, nil
}

// EncodeJSON renders the backup as indented JSON.
func (b *Backup) EncodeJSON() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// EncodeYAML renders the backup as YAML.
func (b *Backup) EncodeYAML() ([]byte, error) {
	return yaml.Marshal(b)
}

// DecodeImport reads an import payload from JSON or YAML, accepting both the
// Backup envelope and a bare ImportData document.
func DecodeImport(raw []byte, format string) (*ImportData, error) {
	var envelope Backup
	var decode func([]byte, any) error
	switch format {
	case "json":
		decode = json.Unmarshal
	case "yaml", "yml":
		decode = func(b []byte, v any) error { return yaml.Unmarshal(b, v) }
	default:
		return nil, fmt.Errorf("%w: unknown import format %q", ErrInvalidRecord, format)
	}

	if err := decode(raw, &envelope); err == nil && envelope.Data != nil {
		return envelope.Data, nil
	}
	var data ImportData
	if err := decode(raw, &data); err != nil {
		return nil, fmt.Errorf("decode import payload: %w", err)
	}
	if data.Cards == nil && data.Tags == nil && data.Domains == nil && data.Settings == nil {
		return nil, fmt.Errorf("%w: import payload is empty", ErrInvalidRecord)
	}
	return &data, nil
}
