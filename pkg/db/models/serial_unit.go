package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
)

// SerialUnit is one individually tracked unit of a product. The check
// constraints mirror the order item/dealer linkage rules of each status.
type SerialUnit struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Serial      string             `gorm:"column:serial;not null;uniqueIndex:ux_serial_units_serial"`
	ProductID   uuid.UUID          `gorm:"column:product_id;type:uuid;not null;index:ix_serial_units_product_status,priority:1"`
	Status      enums.SerialStatus `gorm:"column:status;type:varchar(32);not null;index:ix_serial_units_product_status,priority:2;check:ck_serial_units_status,status IN ('available','reserved_for_order','allocated_to_dealer','sold')"`
	OrderItemID *uuid.UUID         `gorm:"column:order_item_id;type:uuid;index:ix_serial_units_order_item;check:ck_serial_units_order_item,(order_item_id IS NOT NULL) = (status IN ('reserved_for_order','allocated_to_dealer'))"`
	DealerID    *uuid.UUID         `gorm:"column:dealer_id;type:uuid;index:ix_serial_units_dealer;check:ck_serial_units_dealer,(dealer_id IS NOT NULL) = (status = 'allocated_to_dealer')"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *SerialUnit) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
