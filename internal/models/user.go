package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is an account that owns orders
type User struct {
	ID          string              `db:"id" json:"id"`
	Name        string              `db:"name" json:"name"`
	Email       string              `db:"email" json:"email"`
	Phone       string              `db:"phone" json:"phone,omitempty"`
	CreditLimit decimal.NullDecimal `db:"credit_limit" json:"credit_limit"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
}

// NewUser creates a user without a credit limit
func NewUser(name, email string) *User {
	return &User{
		ID:        GenerateID("usr"),
		Name:      name,
		Email:     email,
		CreatedAt: GetCurrentTime(),
	}
}
