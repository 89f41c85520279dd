package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/forecast"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/google/uuid"
)

// MethodologyConfig selects how one line item is projected. At most one
// config per line is active; superseded configs are kept for audit. A line
// with no config at all forecasts with run_rate over a 3 month lookback.
type MethodologyConfig struct {
	ID             uuid.UUID   `gorm:"primary_key" json:"id"`
	CompanyId      string      `gorm:"index:idx_mc_company_line;size:36;not null" json:"company_id"`
	LineItemId     string      `gorm:"index:idx_mc_company_line;size:36;not null" json:"line_item_id"`
	Methodology    Methodology `gorm:"type:enum('straight_line','run_rate','moving_average','linear_trend','growth_rate','seasonal','percent_of_revenue','driver_based','manual');not null" json:"methodology"`
	ParametersJSON []byte      `gorm:"type:json" json:"parameters"`
	IsActive       *bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c MethodologyConfig) GetCompanyId() string {
	return c.CompanyId
}

// Parameters decodes the stored parameter map. A missing blob decodes to an
// empty map so defaults apply downstream.
func (c *MethodologyConfig) Parameters() (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if len(c.ParametersJSON) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(c.ParametersJSON, &params); err != nil {
		return nil, err
	}
	return params, nil
}

type NewMethodologyConfig struct {
	Methodology Methodology            `json:"methodology" binding:"required"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// DefaultMethodologyConfig is what a line forecasts with before anyone has
// configured it.
func DefaultMethodologyConfig(companyId string, lineItemId string) *MethodologyConfig {
	params, _ := json.Marshal(forecast.DefaultParameters(string(MethodologyRunRate)))
	return &MethodologyConfig{
		CompanyId:      companyId,
		LineItemId:     lineItemId,
		Methodology:    MethodologyRunRate,
		ParametersJSON: params,
		IsActive:       utils.NewTrue(),
	}
}

// SaveMethodologyConfig replaces the active config of a line. The previous
// config is deactivated, not deleted.
func SaveMethodologyConfig(ctx context.Context, lineItemId string, input *NewMethodologyConfig) (*MethodologyConfig, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if _, err := ParseMethodology(string(input.Methodology)); err != nil {
		return nil, utils.NewValidationError("unknown methodology %q", input.Methodology)
	}
	if err := utils.ValidateResourceId[LineItem](ctx, companyId, lineItemId); err != nil {
		return nil, errors.New("line item not found")
	}

	params := input.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	normalized, err := forecast.ValidateParameters(string(input.Methodology), params)
	if err != nil {
		return nil, utils.NewValidationError("%s", err.Error())
	}
	paramsJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()

	if err := tx.WithContext(ctx).Model(&MethodologyConfig{}).
		Where("company_id = ? AND line_item_id = ? AND is_active = true", companyId, lineItemId).
		UpdateColumn("is_active", false).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewStorageError("deactivate methodology config", err)
	}

	cfg := MethodologyConfig{
		ID:             uuid.New(),
		CompanyId:      companyId,
		LineItemId:     lineItemId,
		Methodology:    input.Methodology,
		ParametersJSON: paramsJSON,
		IsActive:       utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&cfg).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewStorageError("create methodology config", err)
	}

	if err := EnqueueEvent(tx, ctx, companyId, EventTypeMethodologySaved, map[string]interface{}{
		"line_item_id": lineItemId,
		"methodology":  string(input.Methodology),
	}); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := utils.RemoveRedisList[MethodologyConfig](companyId); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &cfg, tx.Commit().Error
}

// GetActiveMethodologyConfigs returns the active config per line for a
// company. Lines without a config are absent; callers fall back to
// DefaultMethodologyConfig.
func GetActiveMethodologyConfigs(ctx context.Context, companyId string) (map[string]*MethodologyConfig, error) {

	// first try redis cache
	rows, err := utils.RetrieveRedisList[MethodologyConfig](companyId)
	if err != nil {
		return nil, err
	}
	// if not exists in redis
	if rows == nil {
		db := config.GetDB()
		if err := db.WithContext(ctx).
			Where("company_id = ? AND is_active = true", companyId).
			Find(&rows).Error; err != nil {
			return nil, utils.NewStorageError("fetch methodology configs", err)
		}

		// caching the result
		if err := utils.StoreRedisList[MethodologyConfig](rows, companyId); err != nil {
			return nil, err
		}
	}

	configs := make(map[string]*MethodologyConfig, len(rows))
	for _, row := range rows {
		configs[row.LineItemId] = row
	}
	return configs, nil
}

// GetMethodologyForLine returns the line's active config, or the default
// when none has been saved yet.
func GetMethodologyForLine(ctx context.Context, lineItemId string) (*MethodologyConfig, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	db := config.GetDB()
	var row MethodologyConfig
	result := db.WithContext(ctx).
		Where("company_id = ? AND line_item_id = ? AND is_active = true", companyId, lineItemId).
		Limit(1).
		Find(&row)
	if result.Error != nil {
		return nil, utils.NewStorageError("fetch methodology config", result.Error)
	}
	if result.RowsAffected == 0 {
		return DefaultMethodologyConfig(companyId, lineItemId), nil
	}
	return &row, nil
}

// GetMethodologyHistory lists every config ever saved for a line, newest
// first.
func GetMethodologyHistory(ctx context.Context, lineItemId string) ([]*MethodologyConfig, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	db := config.GetDB()
	var rows []*MethodologyConfig
	if err := db.WithContext(ctx).
		Where("company_id = ? AND line_item_id = ?", companyId, lineItemId).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, utils.NewStorageError("fetch methodology history", err)
	}
	return rows, nil
}
