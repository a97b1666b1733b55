/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package training

import "time"

// Trainable is the completion bookkeeping contract for the skill level a
// queue entry references. MarkCompleted is invoked at most once per entry,
// exactly when the entry is retired because its end time passed.
type Trainable interface {
	MarkCompleted(now time.Time)
}

// SnapshotRow is one entry of the upstream queue snapshot, in wire order.
// Nil StartsAt and EndsAt together are the pause sentinel: the upstream API
// omits both timestamps on every row when the whole queue is paused.
type SnapshotRow struct {
	SkillTypeID int64          `json:"skill_type_id"`
	SkillName   string         `json:"skill_name,omitempty"`
	Level       int            `json:"level"`
	Duration    time.Duration  `json:"duration"`
	StartsAt    *time.Time     `json:"starts_at,omitempty"`
	EndsAt      *time.Time     `json:"ends_at,omitempty"`

	// Skill resolves the row to a local skill-level record, when known.
	Skill Trainable `json:"-"`
}

// QueuedSkill is one scheduled training activity. Immutable once built by
// Import; it leaves the queue only by retirement or a wholesale re-import.
type QueuedSkill struct {
	SkillTypeID int64
	SkillName   string
	Level       int
	Duration    time.Duration
	StartsAt    time.Time
	EndsAt      time.Time

	skill Trainable
}

// Skill returns the referenced skill-level record, or nil when the skill is
// unknown to the local model.
func (q *QueuedSkill) Skill() Trainable {
	return q.skill
}

// markCompleted delegates completion bookkeeping to the referenced skill
// level. Entries with no local skill reference are still retired; only the
// bookkeeping call is skipped.
func (q *QueuedSkill) markCompleted(now time.Time) {
	if q.skill != nil {
		q.skill.MarkCompleted(now)
	}
}
