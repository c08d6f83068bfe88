/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/audixlabs/audix/internal/models"
	"gorm.io/gorm"
)

// Migrate applies the schema using GORM auto-migrate, then the manual
// touch-ups auto-migrate cannot express.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(models.All()...); err != nil {
		return err
	}

	if err := normalizeLegacyFlatIDs(database); err != nil {
		return err
	}

	return nil
}

// normalizeLegacyFlatIDs upper-cases flat ids written before the canonical
// form was enforced at the API boundary. Lookups always use the canonical
// form, so stale lowercase rows would be unreachable.
func normalizeLegacyFlatIDs(database *gorm.DB) error {
	for _, table := range []string{"flats", "flat_requests", "setup_codes", "user_sessions"} {
		stmt := fmt.Sprintf("UPDATE %s SET flat_id = UPPER(TRIM(flat_id)) WHERE flat_id != UPPER(TRIM(flat_id))", table)
		if err := database.Exec(stmt).Error; err != nil {
			return fmt.Errorf("normalize flat ids in %s: %w", table, err)
		}
	}
	return nil
}
