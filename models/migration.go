package models

import (
	"bitbucket.org/mmdatafocus/orderexport_backend/config"
	"bitbucket.org/mmdatafocus/orderexport_backend/utils"
)

func MigrateTable() {
	db := config.GetDB()

	utils.ErrorPanic(db.AutoMigrate(
		&Order{}, &OrderLineItem{}, &OrderItemMeta{},
		&User{},
	))
}
