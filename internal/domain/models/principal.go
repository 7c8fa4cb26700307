// Package models defines the records the gateway reads from the origin of record.
// The gateway only ever holds cached copies of these records.
package models

import "time"

// Principal is a marketplace user identified by an access/secret key pair.
type Principal struct {
	// ID is the origin's primary key.
	ID int64 `json:"id" gorm:"primaryKey;autoIncrement"`

	// AccessKey is the public credential sent on every call.
	AccessKey string `json:"accessKey" gorm:"column:access_key;uniqueIndex;size:256;not null"`

	// SecretKey is never transmitted by clients; it keys the signature.
	SecretKey string `json:"secretKey" gorm:"column:secret_key;size:512;not null"`

	// Balance is reserved for priced interfaces and unused while billing is disabled.
	Balance float64 `json:"balance" gorm:"column:balance;not null;default:0"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// TableName binds Principal to the user table.
func (Principal) TableName() string {
	return "user"
}
