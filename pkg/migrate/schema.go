package migrate

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
)

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&models.Product{},
		&models.SerialUnit{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	}
}

// AutoMigrate builds the schema from the gorm models. It backs SQLite
// deployments and tests, where the Postgres SQL files do not apply.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db is required")
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
