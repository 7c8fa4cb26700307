package models

import (
	"strings"
	"time"

	"github.com/turtacn/apigateway/pkg/constants"
)

// RouteDescriptor is a registered interface. Its identity is the full URL
// together with the upper-cased HTTP method.
type RouteDescriptor struct {
	ID        int64                 `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string                `json:"name,omitempty" gorm:"size:256"`
	URL       string                `json:"url" gorm:"column:url;size:1024;not null;index:idx_interface_url_method"`
	Method    string                `json:"method" gorm:"column:method;size:16;not null;index:idx_interface_url_method"`
	Status    constants.RouteStatus `json:"status" gorm:"column:status;not null;default:0"`
	CreatedAt time.Time             `json:"createdAt,omitempty"`
	UpdatedAt time.Time             `json:"updatedAt,omitempty"`
}

// TableName binds RouteDescriptor to the interface_info table.
func (RouteDescriptor) TableName() string {
	return "interface_info"
}

// Online reports whether the interface is published.
func (r *RouteDescriptor) Online() bool {
	return r.Status == constants.RouteStatusOnline
}

// FullURL joins the configured gateway host and a request path.
func FullURL(host, path string) string {
	return strings.TrimRight(host, "/") + "/" + strings.TrimLeft(path, "/")
}

// NormalizeMethod upper-cases an HTTP method so lookups are case-insensitive.
func NormalizeMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}
