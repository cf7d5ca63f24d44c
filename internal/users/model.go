package users

import (
	"encoding/json"
	"strings"
	"time"
)

// SubscriptionStatus is the tier persisted on the account.
type SubscriptionStatus string

const (
	StatusBasic   SubscriptionStatus = "basic"
	StatusPremium SubscriptionStatus = "premium"
)

// Account is a registered user.
type Account struct {
	ID                 string    `gorm:"column:id;primaryKey;size:190"`
	Email              string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash       string    `gorm:"column:password_hash;size:128"`
	EmailVerified      bool      `gorm:"column:email_verified;not null;default:false"`
	FirstName          string    `gorm:"column:first_name;size:190"`
	Surname            string    `gorm:"column:surname;size:190"`
	DateOfBirth        string    `gorm:"column:date_of_birth;size:10"`
	Country            string    `gorm:"column:country;size:100"`
	MailingList        bool      `gorm:"column:mailing_list;not null;default:false"`
	AgreedToTerms      bool      `gorm:"column:agreed_to_terms;not null;default:false"`
	SubscriptionStatus string    `gorm:"column:subscription_status;size:32;not null;default:basic"`
	FavouritesJSON     string    `gorm:"column:favourites_json;type:text;not null;default:'[]'"`
	JoinedAt           time.Time `gorm:"column:joined_at;not null"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "accounts"
}

// Identity links a third-party provider login to an account.
type Identity struct {
	Provider   string    `gorm:"column:provider;primaryKey;size:64;not null"`
	Subject    string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID     string    `gorm:"column:user_id;size:190;not null;index"`
	Email      string    `gorm:"column:user_email;size:320"`
	LastSeenAt time.Time `gorm:"column:last_seen_at"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Profile is the client-facing view of an account.
type Profile struct {
	ID                 string             `json:"id"`
	Email              string             `json:"email"`
	EmailVerified      bool               `json:"emailVerified"`
	FirstName          string             `json:"firstName"`
	Surname            string             `json:"surname"`
	DateOfBirth        string             `json:"dateOfBirth,omitempty"`
	Country            string             `json:"country,omitempty"`
	MailingList        bool               `json:"mailingList"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	Favourites         []string           `json:"favourites"`
	Joined             time.Time          `json:"joined"`
}

func (a Account) profile() Profile {
	return Profile{
		ID:                 a.ID,
		Email:              a.Email,
		EmailVerified:      a.EmailVerified,
		FirstName:          a.FirstName,
		Surname:            a.Surname,
		DateOfBirth:        a.DateOfBirth,
		Country:            a.Country,
		MailingList:        a.MailingList,
		SubscriptionStatus: SubscriptionStatus(a.SubscriptionStatus),
		Favourites:         a.favourites(),
		Joined:             a.JoinedAt,
	}
}

func (a Account) favourites() []string {
	var favourites []string
	if err := json.Unmarshal([]byte(a.FavouritesJSON), &favourites); err != nil || favourites == nil {
		return []string{}
	}
	return favourites
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
