// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DailyStat aggregates one day of reviews. Days are local-date strings
// (2006-01-02) so a day boundary follows the user's clock, not UTC.
type DailyStat struct {
	Day      string `json:"day" yaml:"day"`
	Reviewed int    `json:"reviewed" yaml:"reviewed"`
	Correct  int    `json:"correct" yaml:"correct"`
	GoalMet  bool   `json:"goalMet" yaml:"goalMet"`
}

// Streak is the singleton derived streak record.
type Streak struct {
	Current int    `json:"current" yaml:"current"`
	Longest int    `json:"longest" yaml:"longest"`
	LastDay string `json:"lastDay" yaml:"lastDay"`
}

// TagPerformance accumulates per-tag review accuracy.
type TagPerformance struct {
	TagName string `json:"tagName" yaml:"tagName"`
	Reviews int    `json:"reviews" yaml:"reviews"`
	Correct int    `json:"correct" yaml:"correct"`
}

// DomainBlockStat counts how often a blocking rule fired.
type DomainBlockStat struct {
	Domain        string `json:"domain" yaml:"domain"`
	Blocks        int    `json:"blocks" yaml:"blocks"`
	LastBlockedAt int64  `json:"lastBlockedAt" yaml:"lastBlockedAt"` // unix ms
}

const streakKey = "global"

// StatsStore owns the statistics sibling stores: daily totals, the streak
// record, per-tag accuracy and domain blocking counters. It implements
// StreakInvalidator for the settings layer.
type StatsStore struct {
	db  *DB
	log zerolog.Logger
}

func NewStatsStore(db *DB, logger zerolog.Logger) *StatsStore {
	return &StatsStore{db: db, log: logger}
}

// DayOf formats the local-date bucket for an instant.
func DayOf(t time.Time) string {
	return t.Format("2006-01-02")
}

// RecordReview bumps the day's totals and, when the daily goal is first met,
// extends the streak.
func (s *StatsStore) RecordReview(ctx context.Context, day string, correct bool, dailyGoal int, tags []string) error {
	stat, err := s.GetDailyStat(ctx, day)
	if err != nil {
		return err
	}
	stat.Day = day
	stat.Reviewed++
	if correct {
		stat.Correct++
	}
	goalJustMet := !stat.GoalMet && dailyGoal > 0 && stat.Reviewed >= dailyGoal
	if goalJustMet {
		stat.GoalMet = true
	}
	if err := s.putDailyStat(ctx, stat); err != nil {
		return err
	}
	if goalJustMet {
		if err := s.extendStreak(ctx, day); err != nil {
			return err
		}
	}
	for _, tag := range tags {
		if err := s.recordTagReview(ctx, tag, correct); err != nil {
			return err
		}
	}
	return nil
}

// GetDailyStat returns the day's totals, zeroed when the day has none.
func (s *StatsStore) GetDailyStat(ctx context.Context, day string) (*DailyStat, error) {
	handle, err := s.db.handle()
	if err != nil {
		return nil, err
	}
	var payload string
	err = handle.QueryRowContext(ctx,
		`SELECT payload FROM daily_stats WHERE day = ?`, day).Scan(&payload)
	if err == sql.ErrNoRows {
		return &DailyStat{Day: day}, nil
	}
	if err != nil {
		return nil, normalizeErr("get daily stat", err)
	}
	var stat DailyStat
	if err := json.Unmarshal([]byte(payload), &stat); err != nil {
		return nil, fmt.Errorf("decode daily stat: %w", err)
	}
	return &stat, nil
}

func (s *StatsStore) putDailyStat(ctx context.Context, stat *DailyStat) error {
	payload, err := json.Marshal(stat)
	if err != nil {
		return err
	}
	return s.db.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO daily_stats (day, payload) VALUES (?, ?)
			ON CONFLICT(day) DO UPDATE SET payload = excluded.payload`,
			stat.Day, string(payload))
		return err
	})
}

// GetStreak returns the streak record, zeroed when none exists.
func (s *StatsStore) GetStreak(ctx context.Context) (*Streak, error) {
	handle, err := s.db.handle()
	if err != nil {
		return nil, err
	}
	var payload string
	err = handle.QueryRowContext(ctx,
		`SELECT payload FROM streak_data WHERE id = ?`, streakKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return &Streak{}, nil
	}
	if err != nil {
		return nil, normalizeErr("get streak", err)
	}
	var st Streak
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return nil, fmt.Errorf("decode streak: %w", err)
	}
	return &st, nil
}

func (s *StatsStore) extendStreak(ctx context.Context, day string) error {
	st, err := s.GetStreak(ctx)
	if err != nil {
		return err
	}
	if st.LastDay == day {
		return nil
	}
	if isNextDay(st.LastDay, day) {
		st.Current++
	} else {
		st.Current = 1
	}
	if st.Current > st.Longest {
		st.Longest = st.Current
	}
	st.LastDay = day
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO streak_data (id, payload) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
			streakKey, string(payload))
		return err
	})
}

// isNextDay reports whether day immediately follows last in local dates.
func isNextDay(last, day string) bool {
	if last == "" {
		return false
	}
	t, err := time.ParseInLocation("2006-01-02", last, time.Local)
	if err != nil {
		return false
	}
	return DayOf(t.AddDate(0, 0, 1)) == day
}

// InvalidateStreaks drops the derived streak record. Called when the daily
// goal changes; the next goal-met day starts a fresh streak.
func (s *StatsStore) InvalidateStreaks(ctx context.Context) error {
	s.log.Debug().Msg("invalidating streak data")
	return s.db.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM streak_data`)
		return err
	})
}

func (s *StatsStore) recordTagReview(ctx context.Context, tag string, correct bool) error {
	handle, err := s.db.handle()
	if err != nil {
		return err
	}
	perf := TagPerformance{TagName: tag}
	var payload string
	err = handle.QueryRowContext(ctx,
		`SELECT payload FROM tag_performance WHERE tag_name = ?`, tag).Scan(&payload)
	if err != nil && err != sql.ErrNoRows {
		return normalizeErr("get tag performance", err)
	}
	if err == nil {
		if err := json.Unmarshal([]byte(payload), &perf); err != nil {
			return fmt.Errorf("decode tag performance: %w", err)
		}
	}
	perf.Reviews++
	if correct {
		perf.Correct++
	}
	encoded, err := json.Marshal(&perf)
	if err != nil {
		return err
	}
	return s.db.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tag_performance (tag_name, payload) VALUES (?, ?)
			ON CONFLICT(tag_name) DO UPDATE SET payload = excluded.payload`,
			tag, string(encoded))
		return err
	})
}

// GetTagPerformance returns one tag's accuracy record, zeroed when untracked.
func (s *StatsStore) GetTagPerformance(ctx context.Context, tag string) (*TagPerformance, error) {
	handle, err := s.db.handle()
	if err != nil {
		return nil, err
	}
	var payload string
	err = handle.QueryRowContext(ctx,
		`SELECT payload FROM tag_performance WHERE tag_name = ?`, tag).Scan(&payload)
	if err == sql.ErrNoRows {
		return &TagPerformance{TagName: tag}, nil
	}
	if err != nil {
		return nil, normalizeErr("get tag performance", err)
	}
	var perf TagPerformance
	if err := json.Unmarshal([]byte(payload), &perf); err != nil {
		return nil, fmt.Errorf("decode tag performance: %w", err)
	}
	return &perf, nil
}

// RecordBlock bumps a domain's block counter.
func (s *StatsStore) RecordBlock(ctx context.Context, domain string, at time.Time) error {
	handle, err := s.db.handle()
	if err != nil {
		return err
	}
	stat := DomainBlockStat{Domain: domain}
	var payload string
	err = handle.QueryRowContext(ctx,
		`SELECT payload FROM domain_blocking_stats WHERE domain = ?`, domain).Scan(&payload)
	if err != nil && err != sql.ErrNoRows {
		return normalizeErr("get domain block stat", err)
	}
	if err == nil {
		if err := json.Unmarshal([]byte(payload), &stat); err != nil {
			return fmt.Errorf("decode domain block stat: %w", err)
		}
	}
	stat.Blocks++
	stat.LastBlockedAt = at.UnixMilli()
	encoded, err := json.Marshal(&stat)
	if err != nil {
		return err
	}
	return s.db.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO domain_blocking_stats (domain, payload) VALUES (?, ?)
			ON CONFLICT(domain) DO UPDATE SET payload = excluded.payload`,
			domain, string(encoded))
		return err
	})
}

// GetBlockStat returns a domain's block counters, zeroed when untracked.
func (s *StatsStore) GetBlockStat(ctx context.Context, domain string) (*DomainBlockStat, error) {
	handle, err := s.db.handle()
	if err != nil {
		return nil, err
	}
	var payload string
	err = handle.QueryRowContext(ctx,
		`SELECT payload FROM domain_blocking_stats WHERE domain = ?`, domain).Scan(&payload)
	if err == sql.ErrNoRows {
		return &DomainBlockStat{Domain: domain}, nil
	}
	if err != nil {
		return nil, normalizeErr("get domain block stat", err)
	}
	var stat DomainBlockStat
	if err := json.Unmarshal([]byte(payload), &stat); err != nil {
		return nil, fmt.Errorf("decode domain block stat: %w", err)
	}
	return &stat, nil
}
