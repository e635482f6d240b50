package request

// CreateDonationRequest 发起捐赠
type CreateDonationRequest struct {
	StoryID string `json:"storyId" binding:"required,max=64"`
	DonorID string `json:"donorId" binding:"required,max=64"`
	NgoID   string `json:"ngoId" binding:"required,max=64"`
	Amount  int64  `json:"amount" binding:"required,gt=0"` // 最小货币单位
	Message string `json:"message" binding:"max=500"`
}
