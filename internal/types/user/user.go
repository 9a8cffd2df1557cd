package user

import (
	"encoding/json"
	"time"
)

type User struct {
	ID             string          `json:"id" db:"id"`
	ClerkID        string          `json:"clerkId" db:"clerk_id"`
	Email          string          `json:"email" db:"email"`
	FullName       *string         `json:"fullName" db:"full_name"`
	AvatarURL      *string         `json:"avatarUrl" db:"avatar_url"`
	BillingAddress json.RawMessage `json:"billingAddress" db:"billing_address"`
	PaymentMethod  json.RawMessage `json:"paymentMethod" db:"payment_method"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

type CreateUserRequest struct {
	ClerkID   string `json:"clerkId"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl"`
}

type UpdateProfileRequest struct {
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl"`
}
