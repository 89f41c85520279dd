package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/google/uuid"
)

// Company is the tenant root. Every other record carries its id.
type Company struct {
	ID                   uuid.UUID `gorm:"primary_key" json:"id"`
	Name                 string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Currency             string    `gorm:"size:3;not null;default:'USD'" json:"currency"`
	FiscalYearStartMonth int       `gorm:"not null;default:1" json:"fiscal_year_start_month"`
	Timezone             string    `gorm:"size:50" json:"timezone"`
	IsActive             *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCompany struct {
	Name                 string `json:"name" binding:"required"`
	Currency             string `json:"currency"`
	FiscalYearStartMonth int    `json:"fiscal_year_start_month"`
	Timezone             string `json:"timezone"`
}

func (company *Company) StoreRedis() error {
	return config.SetRedisObject("Company:"+fmt.Sprint(company.ID), company, 0)
}

func (company *Company) RemoveRedis() error {
	return config.RemoveRedisKey("Company:" + fmt.Sprint(company.ID))
}

func (input *NewCompany) validate(ctx context.Context, id string) error {
	// name
	if err := utils.ValidateUnique[Company](ctx, "", "name", input.Name, id); err != nil {
		return err
	}
	if input.FiscalYearStartMonth < 0 || input.FiscalYearStartMonth > 12 {
		return utils.NewValidationError("fiscal_year_start_month must be between 1 and 12")
	}
	return nil
}

func CreateCompany(ctx context.Context, input *NewCompany) (*Company, error) {

	if err := input.validate(ctx, ""); err != nil {
		return nil, err
	}

	currency := input.Currency
	if currency == "" {
		currency = "USD"
	}
	fiscalStart := input.FiscalYearStartMonth
	if fiscalStart == 0 {
		fiscalStart = 1
	}

	company := Company{
		ID:                   uuid.New(),
		Name:                 input.Name,
		Currency:             currency,
		FiscalYearStartMonth: fiscalStart,
		Timezone:             input.Timezone,
		IsActive:             utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&company).Error
	if err != nil {
		return nil, err
	}
	return &company, nil
}

func UpdateCompany(ctx context.Context, input *NewCompany) (*Company, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if err := input.validate(ctx, companyId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var company Company
	if err := db.WithContext(ctx).Where("id = ?", companyId).First(&company).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	// omitted optionals keep their current value
	currency := input.Currency
	if currency == "" {
		currency = company.Currency
	}
	fiscalStart := input.FiscalYearStartMonth
	if fiscalStart == 0 {
		fiscalStart = company.FiscalYearStartMonth
	}

	err := db.WithContext(ctx).Model(&company).Updates(map[string]interface{}{
		"Name":                 input.Name,
		"Currency":             currency,
		"FiscalYearStartMonth": fiscalStart,
		"Timezone":             input.Timezone,
	}).Error
	if err != nil {
		return nil, err
	}

	// caching
	if err := company.RemoveRedis(); err != nil {
		return nil, err
	}
	return &company, nil
}

func GetCompanyById(ctx context.Context, id string) (*Company, error) {

	var result Company

	exists, err := config.GetRedisObject("Company:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		// db query
		fetched, err := utils.FetchSingleModel[Company](ctx, id)
		if err != nil {
			return nil, err
		}
		result = *fetched
		// caching
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func GetCompany(ctx context.Context) (*Company, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	return GetCompanyById(ctx, companyId)
}

func GetAllCompanies(ctx context.Context) ([]*Company, error) {
	db := config.GetDB()
	var results []*Company
	if err := db.WithContext(ctx).Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
