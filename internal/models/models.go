/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models defines the persistent schema. Presence and station state
// are deliberately absent: they live in memory only and are rebuilt from
// reconnects after a restart.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Flat request status values.
const (
	RequestPending  = "PENDING"
	RequestApproved = "APPROVED"
	RequestRejected = "REJECTED"
)

// Flat account status values.
const (
	FlatActive   = "ACTIVE"
	FlatDisabled = "DISABLED"
)

// FlatRequest is a pending application from a flat that wants access.
// Approving one creates the Flat row; the request row is kept for audit.
type FlatRequest struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	FlatID    string `gorm:"index;size:32" json:"flat_id"`
	Name      string `gorm:"size:128" json:"name"`
	Note      string `gorm:"size:512" json:"note"`
	Status    string `gorm:"index;size:16;default:PENDING" json:"status"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (FlatRequest) TableName() string { return "flat_requests" }

// Flat is an approved account. FlatID is stored in canonical form
// (trimmed, uppercased) and is the primary key.
type Flat struct {
	FlatID              string  `gorm:"primaryKey;size:32" json:"flat_id"`
	Status              string  `gorm:"size:16;default:ACTIVE" json:"status"`
	PinHash             *string `gorm:"size:128" json:"-"`
	PasswordHash        *string `gorm:"size:128" json:"-"`
	StrikeCount         int     `gorm:"default:0" json:"strike_count"`
	BanUntil            *time.Time
	RequiresAdminRevoke bool `gorm:"default:false" json:"requires_admin_revoke"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastLoginAt         *time.Time
}

func (Flat) TableName() string { return "flats" }

// SetupCode is a one-time code handed out by an admin when a request is
// approved (or a PIN reset is granted). Only the bcrypt hash is stored.
// ExpiresAt and UsedAt are millisecond epoch values, matching the format
// the admin tooling writes.
type SetupCode struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	FlatID    string `gorm:"index;size:32" json:"flat_id"`
	CodeHash  string `gorm:"size:128" json:"-"`
	ExpiresAt int64  `gorm:"index" json:"expires_at"`
	UsedAt    *int64 `json:"used_at"`
	CreatedAt time.Time
}

func (SetupCode) TableName() string { return "setup_codes" }

// AdminAudit records admin actions. This process never writes rows; the
// schema is migrated here so external admin tooling shares one database.
type AdminAudit struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	Actor     string `gorm:"size:64" json:"actor"`
	Action    string `gorm:"size:64" json:"action"`
	FlatID    string `gorm:"index;size:32" json:"flat_id"`
	Detail    string `gorm:"size:1024" json:"detail"`
	CreatedAt time.Time
}

func (AdminAudit) TableName() string { return "admin_audit" }

func (a *AdminAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// UserSession is a server-side login session. The browser only holds the
// signed SID cookie; revoking a session is deleting its row.
type UserSession struct {
	SID       string    `gorm:"column:sid;primaryKey;size:64" json:"sid"`
	FlatID    string    `gorm:"index;size:32" json:"flat_id"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (UserSession) TableName() string { return "user_sessions" }

// All lists every model migrated at boot, in dependency order.
func All() []any {
	return []any{
		&FlatRequest{},
		&Flat{},
		&SetupCode{},
		&AdminAudit{},
		&UserSession{},
	}
}
