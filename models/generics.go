package models

import (
	"context"
	"errors"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/utils"
)

type Resource interface {
	GetCompanyId() string
}

// first find in redis, then in db, using ctx's company_id in WHERE, cache result
// (may return RecordNotFound error)
func GetResource[T Resource](ctx context.Context, id string, associations ...string) (*T, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	// find in redis
	result, err := utils.RetrieveRedis[T](id)
	if err != nil {
		return nil, err
	}
	// if not found in redis
	if result == nil {
		// fetch from db
		result, err = utils.FetchModel[T](ctx, companyId, id, associations...)
		if err != nil {
			return nil, err
		}

		// store in redis
		if err := utils.StoreRedis[T](result, id); err != nil {
			return nil, err
		}
	} else {
		// if found in redis
		// check if company ids match
		if (*result).GetCompanyId() != companyId {
			return nil, errors.New("cannot access resource owned by other company")
		}
	}

	return result, nil
}

// list all resources, redis or db, cache result
func ListAllResource[T any](ctx context.Context, orders ...string) ([]*T, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	// first try redis cache
	results, err := utils.RetrieveRedisList[T](companyId)
	if err != nil {
		return nil, err
	}
	// if not exists in redis
	if results == nil {
		// fetch from db
		db := config.GetDB()
		var model T
		dbCtx := db.WithContext(ctx).Where("company_id = ?", companyId)
		for _, order := range orders {
			dbCtx.Order(order)
		}
		// db query
		if err = dbCtx.Model(&model).Find(&results).Error; err != nil {
			return nil, err
		}

		// caching the result
		if err := utils.StoreRedisList[T](results, companyId); err != nil {
			return nil, err
		}
	}

	return results, nil
}

func ToggleActiveModel[T any](ctx context.Context, companyId string, id string, isActive bool) (*T, error) {

	var result *T
	var err error
	db := config.GetDB()

	// fetch model before updating
	if companyId == "" {
		err = db.WithContext(ctx).First(&result, "id = ?", id).Error
	} else {
		err = db.WithContext(ctx).Where("company_id = ?", companyId).First(&result, "id = ?", id).Error
	}
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	// update db
	if err := db.WithContext(ctx).Model(&result).
		UpdateColumn("IsActive", isActive).Error; err != nil {
		return nil, err
	}

	// clear cache
	if err := utils.RemoveRedisItem[T](id); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisList[T](companyId); err != nil {
		return nil, err
	}

	return result, nil
}
