package response

import (
	"time"

	"donation-core/internal/model"
)

// DonationCreated 捐赠单创建结果
type DonationCreated struct {
	ID        string               `json:"id"`
	StoryID   string               `json:"storyId"`
	Amount    int64                `json:"amount"`
	Status    model.DonationStatus `json:"status"`
	CreatedAt time.Time            `json:"createdAt"`
}

func NewDonationCreated(d *model.Donation) DonationCreated {
	return DonationCreated{
		ID:        d.ID,
		StoryID:   d.StoryID,
		Amount:    d.Amount,
		Status:    d.Status,
		CreatedAt: d.CreatedAt,
	}
}
