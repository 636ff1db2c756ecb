package store

import "time"

// User is a registered merchant account.
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	FullName        string
	CompanyName     string
	ShopifyStoreURL string
	IsActive        bool
	IsVerified      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Subscription is the billing state of one user. There is at most one per user.
type Subscription struct {
	ID                    string
	UserID                string
	StripeCustomerID      string
	StripeSubscriptionID  string
	StripePriceID         string
	Status                string
	PlanName              string
	MonthlyPrice          float64
	PromoCodeID           string
	DiscountPercent       float64
	MonthlyMessageLimit   int
	MessagesUsedThisMonth int
	UsagePeriodStart      *time.Time
	TrialEndsAt           *time.Time
	CurrentPeriodStart    *time.Time
	CurrentPeriodEnd      *time.Time
	CanceledAt            *time.Time
	PastDueSince          *time.Time // start of the grace period
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Subscription defaults applied on first save.
const (
	DefaultPlanName            = "basic"
	DefaultMonthlyPrice        = 79.00
	DefaultMonthlyMessageLimit = 999999
	DefaultSubscriptionStatus  = "trialing"
)

// Subscription statuses the store acts on directly.
const (
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Discount types.
const (
	DiscountPercent = "percent"
	DiscountFixed   = "fixed"
)

// PromoCode is an admin-created discount code.
type PromoCode struct {
	ID             string
	Code           string
	DiscountType   string
	DiscountValue  float64
	MaxUses        *int // nil means unlimited
	TimesUsed      int
	IsActive       bool
	ValidFrom      time.Time
	ValidUntil     *time.Time
	FirstMonthOnly bool
	DurationMonths *int
	Description    string
	CreatedAt      time.Time
}

// MerchantStore is a shop connected by a user. BusinessInfo and
// WidgetSettings hold raw JSON documents.
type MerchantStore struct {
	ID              string
	UserID          string
	ShopifyStoreURL string
	ShopifyShopID   string
	StoreName       string
	StoreDomain     string
	BusinessInfo    string
	WidgetSettings  string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Conversation statuses.
const (
	ConversationActive    = "active"
	ConversationResolved  = "resolved"
	ConversationEscalated = "escalated"
)

// Conversation is one end-customer chat session on a merchant store.
type Conversation struct {
	ID            string
	UserID        string
	StoreID       string
	CustomerEmail string
	CustomerName  string
	CustomerIP    string
	Status        string
	Rating        *int
	ExtraData     string
	StartedAt     time.Time
	EndedAt       *time.Time
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation. IDs are ULIDs.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	ModelUsed      string
	TokensUsed     int
	Timestamp      time.Time
}
