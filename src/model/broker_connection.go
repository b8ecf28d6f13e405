package model

import "time"

const (
	ConnectionStatusActive  = "active"
	ConnectionStatusExpired = "expired"
)

// BrokerConnection stores one user's brokerage session. The access token is
// encrypted at rest and decrypted only when a connector is built for it.
type BrokerConnection struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"index;not null" json:"user_id"`

	Broker            string `gorm:"size:50;not null" json:"broker"`
	APIKey            string `gorm:"size:100" json:"api_key"`
	AccessTokenCipher string `gorm:"size:500;column:access_token_cipher" json:"-"`
	Status            string `gorm:"size:20;not null;default:active" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BrokerConnection) TableName() string {
	return "broker_connections"
}
