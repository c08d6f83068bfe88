/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/audixlabs/audix/internal/events"
	"github.com/audixlabs/audix/internal/flatid"
	"github.com/audixlabs/audix/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// setupCodeWindow is how many of the newest codes per flat are considered
// when enrolling a PIN. Older codes are dead even if technically unexpired.
const setupCodeWindow = 5

// Service implements the flat lifecycle over the database.
type Service struct {
	db     *gorm.DB
	hasher *Hasher
	bus    *events.Bus
	log    zerolog.Logger
	now    func() time.Time
}

// NewService creates the identity service.
func NewService(database *gorm.DB, hasher *Hasher, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     database,
		hasher: hasher,
		bus:    bus,
		log:    logger.With().Str("component", "identity").Logger(),
		now:    time.Now,
	}
}

// CreateAccessRequest records that a flat wants access. Re-submitting
// while a request is still pending returns the existing request with
// reused=true instead of stacking duplicates.
func (s *Service) CreateAccessRequest(ctx context.Context, flatID, name string) (req *models.FlatRequest, reused bool, err error) {
	flatID = flatid.Normalize(flatID)
	name = strings.TrimSpace(name)
	if flatID == "" || name == "" {
		return nil, false, coded(CodeMissingFields)
	}

	var existing models.FlatRequest
	err = s.db.WithContext(ctx).
		Where("flat_id = ? AND status = ?", flatID, models.RequestPending).
		First(&existing).Error
	if err == nil {
		return &existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	req = &models.FlatRequest{
		FlatID: flatID,
		Name:   name,
		Status: models.RequestPending,
	}
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, false, err
	}

	s.log.Info().Str("flat_id", flatID).Msg("access request created")
	return req, false, nil
}

// RequestInfo is the public view of a flat's most recent access request.
type RequestInfo struct {
	ID        uint      `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// FlatInfo is the public view of a flat's account state on the setup page.
type FlatInfo struct {
	Status              string `json:"status"`
	PinSet              bool   `json:"pinSet"`
	Banned              bool   `json:"banned"`
	RequiresAdminRevoke bool   `json:"requiresAdminRevoke"`
}

// SetupStatus describes where a flat stands in the enrollment flow.
// Both fields are nil when the flat is unknown; that is not an error.
type SetupStatus struct {
	FlatID  string       `json:"flat_id"`
	Request *RequestInfo `json:"request"`
	Flat    *FlatInfo    `json:"flat"`
}

// GetSetupStatus reports the most recent request and the account state
// for the flat.
func (s *Service) GetSetupStatus(ctx context.Context, flatID string) (*SetupStatus, error) {
	flatID = flatid.Normalize(flatID)
	if flatID == "" {
		return nil, coded(CodeMissingFlatID)
	}

	status := &SetupStatus{FlatID: flatID}

	var req models.FlatRequest
	err := s.db.WithContext(ctx).
		Where("flat_id = ?", flatID).
		Order("created_at DESC").
		First(&req).Error
	if err == nil {
		status.Request = &RequestInfo{ID: req.ID, Status: req.Status, CreatedAt: req.CreatedAt}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var flat models.Flat
	err = s.db.WithContext(ctx).Where("flat_id = ?", flatID).First(&flat).Error
	if err == nil {
		status.Flat = &FlatInfo{
			Status:              flat.Status,
			PinSet:              flat.PinHash != nil,
			Banned:              flat.BanUntil != nil && flat.BanUntil.After(s.now()),
			RequiresAdminRevoke: flat.RequiresAdminRevoke,
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return status, nil
}

// SetupPinWithCode consumes a setup code and stores the flat's PIN hash
// (and password hash, when supplied). Code match and consumption happen
// in one transaction so a code can be spent at most once.
func (s *Service) SetupPinWithCode(ctx context.Context, flatID, code, pin, password string) error {
	flatID = flatid.Normalize(flatID)
	if flatID == "" {
		return coded(CodeMissingFields)
	}
	code = strings.TrimSpace(code)
	if code == "" || pin == "" {
		return coded(CodeMissingFields)
	}
	if !validPinFormat(pin) {
		return coded(CodePinMustBe4Digits)
	}

	flat, err := s.findFlat(ctx, flatID)
	if err != nil {
		return err
	}
	if flat.Status != models.FlatActive {
		return coded(CodeFlatDisabled)
	}

	codes, err := s.recentCodes(ctx, flatID)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return coded(CodeNoValidCode)
	}

	// Match against every recent code so a spent code reports
	// INVALID_CODE rather than looking like it never existed.
	var matched *models.SetupCode
	for i := range codes {
		ok, err := s.hasher.Compare(ctx, codes[i].CodeHash, code)
		if err != nil {
			return err
		}
		if ok {
			matched = &codes[i]
			break
		}
	}
	if matched == nil {
		if !s.anyUsable(codes) {
			return coded(CodeNoValidCode)
		}
		return coded(CodeInvalidCode)
	}
	if !s.codeUsable(*matched) {
		return coded(CodeInvalidCode)
	}

	pinHash, err := s.hasher.Hash(ctx, pin)
	if err != nil {
		return err
	}
	var passwordHash string
	if password != "" {
		if passwordHash, err = s.hasher.Hash(ctx, password); err != nil {
			return err
		}
	}

	nowMs := s.now().UnixMilli()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SetupCode{}).
			Where("id = ? AND used_at IS NULL", matched.ID).
			Update("used_at", nowMs)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return coded(CodeInvalidCode)
		}
		updates := map[string]any{"pin_hash": pinHash}
		if passwordHash != "" {
			updates["password_hash"] = passwordHash
		}
		return tx.Model(&models.Flat{}).
			Where("flat_id = ?", flatID).
			Updates(updates).Error
	})
	if err != nil {
		return err
	}

	s.bus.Publish(events.EventFlatPinSet, events.Payload{"flat_id": flatID})
	s.log.Info().Str("flat_id", flatID).Msg("pin enrolled")
	return nil
}

// LoginFlat checks credentials and returns the flat on success. Gate
// checks run in a fixed order so the caller always learns the most
// fundamental blocker first.
func (s *Service) LoginFlat(ctx context.Context, flatID, pin, password string) (*models.Flat, error) {
	flatID = flatid.Normalize(flatID)
	if flatID == "" || pin == "" {
		return nil, coded(CodeMissingFields)
	}

	flat, err := s.findFlat(ctx, flatID)
	if err != nil {
		return nil, err
	}
	if flat.Status != models.FlatActive {
		return nil, coded(CodeFlatDisabled)
	}
	if flat.BanUntil != nil && flat.BanUntil.After(s.now()) {
		return nil, banned(flat.BanUntil)
	}
	if flat.RequiresAdminRevoke {
		return nil, coded(CodeAdminRevoke)
	}
	if flat.PinHash == nil {
		return nil, coded(CodePinNotSet)
	}
	if !validPinFormat(pin) {
		return nil, coded(CodeInvalidPin)
	}
	if flat.PasswordHash != nil && password == "" {
		return nil, coded(CodePasswordRequired)
	}

	ok, err := s.hasher.Compare(ctx, *flat.PinHash, pin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coded(CodeInvalidCredentials)
	}
	if flat.PasswordHash != nil {
		ok, err := s.hasher.Compare(ctx, *flat.PasswordHash, password)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, coded(CodeInvalidCredentials)
		}
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&models.Flat{}).
		Where("flat_id = ?", flatID).
		Update("last_login_at", now).Error; err != nil {
		return nil, err
	}
	flat.LastLoginAt = &now

	s.bus.Publish(events.EventFlatLogin, events.Payload{"flat_id": flatID})
	s.log.Info().Str("flat_id", flatID).Msg("login ok")
	return flat, nil
}

func (s *Service) findFlat(ctx context.Context, flatID string) (*models.Flat, error) {
	var flat models.Flat
	err := s.db.WithContext(ctx).Where("flat_id = ?", flatID).First(&flat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, coded(CodeFlatNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &flat, nil
}

// recentCodes returns the newest setup codes for the flat, newest first.
func (s *Service) recentCodes(ctx context.Context, flatID string) ([]models.SetupCode, error) {
	var codes []models.SetupCode
	err := s.db.WithContext(ctx).
		Where("flat_id = ?", flatID).
		Order("created_at DESC").
		Limit(setupCodeWindow).
		Find(&codes).Error
	return codes, err
}

func (s *Service) codeUsable(c models.SetupCode) bool {
	return c.UsedAt == nil && c.ExpiresAt > s.now().UnixMilli()
}

func (s *Service) anyUsable(codes []models.SetupCode) bool {
	for _, c := range codes {
		if s.codeUsable(c) {
			return true
		}
	}
	return false
}

func validPinFormat(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
