package database

import "time"

type TerminalStatus string

const (
	StatusPending  TerminalStatus = "pending"
	StatusStarting TerminalStatus = "starting"
	StatusStarted  TerminalStatus = "started"
	StatusStopped  TerminalStatus = "stopped"
	StatusExpired  TerminalStatus = "expired"
	StatusFailed   TerminalStatus = "failed"
)

// ActiveStatuses count against the concurrent-terminal ceiling.
var ActiveStatuses = []TerminalStatus{StatusPending, StatusStarting, StatusStarted}

func ParseStatus(s string) (TerminalStatus, bool) {
	switch st := TerminalStatus(s); st {
	case StatusPending, StatusStarting, StatusStarted, StatusStopped, StatusExpired, StatusFailed:
		return st, true
	}
	return "", false
}

// Terminal is one terminal record. ProvisioningAt is when the current
// provisioning attempt began: creation, or the latest restart.
type Terminal struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	OwnerID        *string        `gorm:"size:255;index" json:"user_id"`
	Status         TerminalStatus `gorm:"size:16;not null;default:pending;index" json:"status"`
	ContainerRef   *string        `gorm:"size:255" json:"container_id"`
	ContainerName  *string        `gorm:"size:255" json:"container_name"`
	HostEndpoint   *string        `gorm:"size:255" json:"host_port"`
	TunnelURL      *string        `gorm:"size:512" json:"tunnel_url"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	ExpiresAt      time.Time      `gorm:"not null;index" json:"expires_at"`
	LastActivityAt *time.Time     `json:"last_activity_at"`
	ProvisioningAt *time.Time     `gorm:"index" json:"-"`
	DeletedAt      *time.Time     `gorm:"index" json:"-"`
	ErrorMessage   *string        `gorm:"size:1024" json:"error_message"`
}

func (t *Terminal) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t *Terminal) IsDeleted() bool {
	return t.DeletedAt != nil
}

// Ref returns the container reference or "" when none was assigned yet.
func (t *Terminal) Ref() string {
	if t.ContainerRef == nil {
		return ""
	}
	return *t.ContainerRef
}

// StrPtr returns nil for the empty string.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
