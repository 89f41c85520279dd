package models

import (
	"log"

	"github.com/finsightapps/forecast_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Company{},
		&LineItem{},
		&HistoricalPoint{}, &ActualPoint{},
		&MethodologyConfig{},
		&ForecastProjection{},
		&ImportBatch{},
		&VarianceRecord{},
		&EventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
