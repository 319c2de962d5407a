package scripts

import (
	"strings"
	"time"
)

// Script is one protected script record. Size and line counts are derived
// from Content on the way out, never stored.
type Script struct {
	Name            string `json:"name"`
	Content         string `json:"-"`
	Description     string `json:"description"`
	SkipObfuscation bool   `json:"skipObfuscation"`
	Executions      int    `json:"executions"`
	LastExecutedAt  *int64 `json:"last_executed_at,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// Info is the admin list view with derived metrics.
type Info struct {
	Name            string `json:"name"`
	Size            int    `json:"size"`
	Lines           int    `json:"lines"`
	Updated         string `json:"updated"`
	Executions      int    `json:"executions"`
	Description     string `json:"description"`
	SkipObfuscation bool   `json:"skipObfuscation"`
}

// Stats is the aggregate view served by the stats endpoint.
type Stats struct {
	ScriptCount     int `json:"scriptCount"`
	TotalExecutions int `json:"totalExecutions"`
	TotalSize       int `json:"totalSize"`
	ActiveKeys      int `json:"activeKeys"`
	TotalKeys       int `json:"totalKeys"`
}

func (s *Script) info() Info {
	return Info{
		Name:            s.Name,
		Size:            len(s.Content),
		Lines:           strings.Count(s.Content, "\n") + 1,
		Updated:         time.Unix(s.UpdatedAt, 0).UTC().Format(time.RFC3339),
		Executions:      s.Executions,
		Description:     s.Description,
		SkipObfuscation: s.SkipObfuscation,
	}
}

// SanitizeName strips everything outside [a-zA-Z0-9_-], the same restricted
// set enforced on upload and on every routed name.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteRune(c)
		}
	}
	return b.String()
}
