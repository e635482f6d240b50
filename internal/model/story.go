package model

import "time"

// Story 求助故事 (平台侧维护，这里只读)
type Story struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	NgoID     string    `gorm:"type:varchar(64);not null;index" json:"ngoId"`
	ItemID    string    `gorm:"type:varchar(64);not null" json:"itemId"`
	ItemName  string    `gorm:"type:varchar(255)" json:"itemName"`
	Status    string    `gorm:"type:varchar(20);not null;default:'OPEN'" json:"status"` // OPEN, CLOSED
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const StoryOpen = "OPEN"

func (Story) TableName() string {
	return "stories"
}
