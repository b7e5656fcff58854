package model

import "time"

// AuditLog 操作审计记录
type AuditLog struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Action    string    `json:"action" gorm:"size:64;not null;index"`
	Entity    string    `json:"entity" gorm:"size:64;not null"`
	EntityID  string    `json:"entityId" gorm:"size:64;index"`
	UserID    string    `json:"userId" gorm:"size:64"`
	UserName  string    `json:"userName" gorm:"size:128"`
	UserRole  string    `json:"userRole" gorm:"size:32"`
	Details   JSONMap   `json:"details"`
	IPAddress string    `json:"ipAddress" gorm:"size:64"`
	CreatedAt time.Time `json:"createdAt"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Actor is the verified identity behind a request.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
	IP   string `json:"-"`
}
