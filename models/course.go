package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Course is a product sold by an institution on the marketplace
type Course struct {
	ID            string          `json:"id"`
	InstitutionID string          `json:"institution_id"`
	Title         string          `json:"title"`
	Price         decimal.Decimal `json:"price"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Student struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Institution struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
