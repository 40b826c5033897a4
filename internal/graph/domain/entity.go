package domain

import "time"

// Role is the part an entity plays in the email that mentions it.
type Role string

const (
	RoleSender    Role = "sender"
	RoleRecipient Role = "recipient"
	RoleCc        Role = "cc"
	RoleInternal  Role = "internal"
	RoleExternal  Role = "external"
	RoleClient    Role = "client"
	RoleVendor    Role = "vendor"
	RoleOpposing  Role = "opposing"
	RoleUnknown   Role = "unknown"
)

var Roles = []Role{
	RoleSender, RoleRecipient, RoleCc, RoleInternal, RoleExternal,
	RoleClient, RoleVendor, RoleOpposing, RoleUnknown,
}

// ParseRole maps free-form model output onto a Role, defaulting to RoleUnknown.
func ParseRole(s string) Role {
	r := Role(normalizeType(s))
	for _, known := range Roles {
		if r == known {
			return r
		}
	}
	return RoleUnknown
}

// Entity is a node of the knowledge graph. NormalizedKey is its identity;
// CanonicalName keeps the casing of the first sighting.
type Entity struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	EntityType    string    `json:"entity_type" gorm:"not null"`
	CanonicalName string    `json:"canonical_name" gorm:"not null"`
	NormalizedKey string    `json:"normalized_key" gorm:"not null;uniqueIndex"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Entity) TableName() string {
	return "entities"
}

// EntityMention links an email to an entity. One row per (email, entity).
type EntityMention struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	EmailID    uint      `json:"email_id" gorm:"not null;uniqueIndex:idx_mention_key"`
	EntityID   uint      `json:"entity_id" gorm:"not null;uniqueIndex:idx_mention_key"`
	Role       Role      `json:"role" gorm:"not null"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

func (EntityMention) TableName() string {
	return "entity_mentions"
}

// Edge is a relation observed in one email. Edges are never merged across
// emails; repeated evidence yields repeated edges.
type Edge struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	SrcEntityID uint      `json:"src_entity_id" gorm:"not null"`
	DstEntityID uint      `json:"dst_entity_id" gorm:"not null"`
	EdgeType    string    `json:"edge_type" gorm:"not null"`
	EmailID     uint      `json:"email_id" gorm:"not null;index"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Edge) TableName() string {
	return "edges"
}
