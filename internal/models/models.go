/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// RoleName enumerates the RBAC roles.
type RoleName string

const (
	RoleAdmin    RoleName = "admin"
	RoleOperator RoleName = "operator"
	RoleViewer   RoleName = "viewer"
)

// User represents an authenticated account that owns pilots.
type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"uniqueIndex"`
	Password  string
	Role      RoleName `gorm:"type:varchar(16)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pilot is a monitored game character whose training queue we track.
type Pilot struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	UserID    string `gorm:"type:uuid;index"`
	GameID    int64  `gorm:"uniqueIndex"` // character id in the upstream game API
	Monitored bool   `gorm:"index"`
	LastSeen  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	User *User `gorm:"foreignKey:UserID"`
}

// IsMonitored reports whether queue updates should run for this pilot.
func (p *Pilot) IsMonitored() bool {
	return p != nil && p.Monitored
}

// Skill is a static catalogue entry describing a trainable skill type.
type Skill struct {
	TypeID    int64  `gorm:"primaryKey"`
	Name      string `gorm:"index"`
	GroupName string `gorm:"index"`
	Rank      int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PilotSkill is a pilot's progress on one skill. The training queue holds a
// reference to the level being trained and flips TrainedLevel when the queue
// retires the entry.
type PilotSkill struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	PilotID       string `gorm:"type:uuid;index:idx_pilot_skills_pilot"`
	SkillTypeID   int64  `gorm:"index"`
	TrainedLevel  int
	QueuedLevel   int
	SkillPoints   int64
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Pilot *Pilot `gorm:"foreignKey:PilotID"`
	Skill *Skill `gorm:"foreignKey:SkillTypeID;references:TypeID"`
}

// MarkCompleted records that the queued level finished training. Idempotent:
// a level already recorded as trained is not regressed.
func (ps *PilotSkill) MarkCompleted(now time.Time) {
	if ps == nil {
		return
	}
	if ps.QueuedLevel > ps.TrainedLevel {
		ps.TrainedLevel = ps.QueuedLevel
	}
	completed := now.UTC()
	ps.CompletedAt = &completed
}

// APIKey grants programmatic access to the HTTP API.
type APIKey struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	UserID     string `gorm:"type:uuid;index"`
	Name       string
	KeyHash    string `gorm:"uniqueIndex"`
	KeyPrefix  string `gorm:"type:varchar(16)"` // shown in listings, never the full key
	LastUsedAt *time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time

	User *User `gorm:"foreignKey:UserID"`
}

// IsRevoked reports whether the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// IsExpired reports whether the key is past its expiry.
func (k *APIKey) IsExpired() bool {
	return !k.ExpiresAt.IsZero() && time.Now().After(k.ExpiresAt)
}

// WebhookTarget is an endpoint notified on batched skill completions.
type WebhookTarget struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:uuid;index"`
	URL       string
	Secret    string
	Enabled   bool `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WebhookLog records one delivery attempt.
type WebhookLog struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TargetID   string `gorm:"type:uuid;index"`
	Event      string `gorm:"type:varchar(64)"`
	StatusCode int
	Error      string `gorm:"type:text"`
	CreatedAt  time.Time
}
