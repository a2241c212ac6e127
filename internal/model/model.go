package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Role enumerates the roles a profile may hold.
type Role string

const (
	// RoleAdmin manages operators and views aggregate metrics.
	RoleAdmin Role = "admin"
	// RoleManager is stored but has no view table.
	RoleManager Role = "manager"
	// RoleOperator owns hectares, emissions and tokens.
	RoleOperator Role = "operator"
)

// HectareStatus enumerates parcel states.
type HectareStatus string

const (
	HectareStatusActive    HectareStatus = "active"
	HectareStatusInactive  HectareStatus = "inactive"
	HectareStatusHarvested HectareStatus = "harvested"
)

// EmissionType enumerates the production stages an emission is attributed to.
type EmissionType string

const (
	EmissionTypeCultivation EmissionType = "cultivation"
	EmissionTypeHarvest     EmissionType = "harvest"
	EmissionTypeTransport   EmissionType = "transport"
	EmissionTypeProcessing  EmissionType = "processing"
)

// TokenType enumerates carbon-credit transaction kinds.
type TokenType string

const (
	TokenTypeEarned    TokenType = "earned"
	TokenTypePurchased TokenType = "purchased"
	TokenTypeRetired   TokenType = "retired"
)

// Roles lists every stored role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleOperator}
}

// HectareStatuses lists every parcel status in display order.
func HectareStatuses() []HectareStatus {
	return []HectareStatus{HectareStatusActive, HectareStatusInactive, HectareStatusHarvested}
}

// EmissionTypes lists every emission category in display order.
func EmissionTypes() []EmissionType {
	return []EmissionType{EmissionTypeCultivation, EmissionTypeHarvest, EmissionTypeTransport, EmissionTypeProcessing}
}

// TokenTypes lists every token transaction kind.
func TokenTypes() []TokenType {
	return []TokenType{TokenTypeEarned, TokenTypePurchased, TokenTypeRetired}
}

// Profile is the application-side record of a user.
type Profile struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Email     string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	FullName  *string   `gorm:"column:full_name;size:320" json:"full_name"`
	Role      Role      `gorm:"column:role;size:16;not null;index" json:"role"`
	IsActive  bool      `gorm:"column:is_active;not null" json:"is_active"`
	CreatedBy *string   `gorm:"column:created_by;size:64" json:"created_by,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "profiles"
}

// DisplayName returns the full name when present, otherwise the email.
func (p Profile) DisplayName() string {
	if p.FullName != nil && *p.FullName != "" {
		return *p.FullName
	}
	return p.Email
}

// Acts reports whether the profile is active and holds role.
func (p Profile) Acts(role Role) bool {
	return p.IsActive && p.Role == role
}

// MayRead reports whether the profile may load records owned by ownerID. Operators read
// their own records and admins read every operator's.
func (p Profile) MayRead(ownerID string) bool {
	return (p.Acts(RoleOperator) && p.ID == ownerID) || p.Acts(RoleAdmin)
}

// MayWrite reports whether the profile may create or change records owned by ownerID.
func (p Profile) MayWrite(ownerID string) bool {
	return p.Acts(RoleOperator) && p.ID == ownerID
}

// Hectare is a tracked land parcel.
type Hectare struct {
	ID        string          `gorm:"column:id;primaryKey;size:64" json:"id"`
	OwnerID   string          `gorm:"column:owner_id;size:64;not null;index:idx_hectares_owner_created,priority:1" json:"owner_id"`
	Name      string          `gorm:"column:name;size:190;not null" json:"name"`
	Size      decimal.Decimal `gorm:"column:size;type:numeric(14,4);not null" json:"size"`
	Location  *string         `gorm:"column:location;size:320" json:"location"`
	Status    HectareStatus   `gorm:"column:status;size:16;not null" json:"status"`
	CreatedAt time.Time       `gorm:"column:created_at;not null;index:idx_hectares_owner_created,priority:2" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Hectare) TableName() string {
	return "hectares"
}

// Emission is a recorded quantity of CO2 in kilograms.
type Emission struct {
	ID             string          `gorm:"column:id;primaryKey;size:64" json:"id"`
	OwnerID        string          `gorm:"column:owner_id;size:64;not null;index:idx_emissions_owner_date,priority:1" json:"owner_id"`
	HectareID      *string         `gorm:"column:hectare_id;size:64;index" json:"hectare_id"`
	EmissionAmount decimal.Decimal `gorm:"column:emission_amount;type:numeric(14,4);not null" json:"emission_amount"`
	EmissionDate   datatypes.Date  `gorm:"column:emission_date;not null;index:idx_emissions_owner_date,priority:2" json:"emission_date"`
	EmissionType   EmissionType    `gorm:"column:emission_type;size:16;not null" json:"emission_type"`
	Notes          *string         `gorm:"column:notes;type:text" json:"notes"`
	CreatedAt      time.Time       `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Emission) TableName() string {
	return "emissions"
}

// Token is a carbon-credit transaction. BlockchainTx is an unverified free-text reference.
type Token struct {
	ID              string          `gorm:"column:id;primaryKey;size:64" json:"id"`
	OwnerID         string          `gorm:"column:owner_id;size:64;not null;index:idx_tokens_owner_date,priority:1" json:"owner_id"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(14,4);not null" json:"amount"`
	TokenType       TokenType       `gorm:"column:token_type;size:16;not null" json:"token_type"`
	Value           decimal.Decimal `gorm:"column:value;type:numeric(14,4);not null" json:"value"`
	TransactionDate time.Time       `gorm:"column:transaction_date;not null;index:idx_tokens_owner_date,priority:2" json:"transaction_date"`
	BlockchainTx    *string         `gorm:"column:blockchain_tx;size:190" json:"blockchain_tx"`
	CreatedAt       time.Time       `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Token) TableName() string {
	return "tokens"
}
