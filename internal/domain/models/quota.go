package models

import (
	"time"

	"github.com/turtacn/apigateway/pkg/constants"
)

// QuotaRelation grants a principal the right to call one interface.
// RemainingCalls is never below -1; -1 means uncapped.
type QuotaRelation struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID         int64     `json:"userId" gorm:"column:user_id;not null;uniqueIndex:idx_user_interface"`
	InterfaceID    int64     `json:"interfaceInfoId" gorm:"column:interface_info_id;not null;uniqueIndex:idx_user_interface"`
	RemainingCalls int64     `json:"remainNum" gorm:"column:remain_num;not null;default:0"`
	TotalCalls     int64     `json:"totalNum" gorm:"column:total_num;not null;default:0"`
	Status         int       `json:"status" gorm:"column:status;not null;default:0"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// TableName binds QuotaRelation to the user_interface_info table.
func (QuotaRelation) TableName() string {
	return "user_interface_info"
}

// Unlimited reports whether the relation is uncapped.
func (q *QuotaRelation) Unlimited() bool {
	return q.RemainingCalls == constants.UnlimitedCalls
}

// Exhausted reports whether a capped relation has no calls left.
func (q *QuotaRelation) Exhausted() bool {
	return !q.Unlimited() && q.RemainingCalls <= 0
}
