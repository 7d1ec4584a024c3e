package model

// UserRole 来自 JWT 声明，本服务不存储用户，认证由外部签发方负责
type UserRole string

const (
	Participant UserRole = "participant"
	Operator    UserRole = "operator"
	Admin       UserRole = "admin"
)
