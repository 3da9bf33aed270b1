package profiles

import (
	"sort"
	"strings"
	"time"

	"github.com/matedash/authbridge/internal/models"
)

// ListOptions filters and pages a profile listing. Sort is a field name with
// an optional leading "-" for descending order.
type ListOptions struct {
	Page          int
	Limit         int
	Sort          string
	Role          string
	CreatedAfter  time.Time
	FirstTimeOnly bool
}

// ListResult is one page of profiles plus the total matching count.
type ListResult struct {
	Items []*models.Profile `json:"items"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

func (o ListOptions) normalized() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 || o.Limit > 100 {
		o.Limit = 20
	}
	if o.Sort == "" {
		o.Sort = "-createdAt"
	}
	return o
}

func (o ListOptions) skip() int { return (o.Page - 1) * o.Limit }

// sortKey splits "-createdAt" into ("createdAt", true).
func (o ListOptions) sortKey() (string, bool) {
	if strings.HasPrefix(o.Sort, "-") {
		return o.Sort[1:], true
	}
	return o.Sort, false
}

func (o ListOptions) match(p *models.Profile) bool {
	if o.Role != "" && p.Role != o.Role {
		return false
	}
	if !o.CreatedAfter.IsZero() && !p.CreatedAt.After(o.CreatedAfter) {
		return false
	}
	if o.FirstTimeOnly && !p.IsFirstTimeUser {
		return false
	}
	return true
}

func sortProfiles(ps []*models.Profile, field string, desc bool) {
	less := func(a, b *models.Profile) bool {
		switch field {
		case "updatedAt":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "email":
			return a.Email < b.Email
		case "displayName":
			return a.DisplayName < b.DisplayName
		case "tokenBalance":
			return a.TokenBalance < b.TokenBalance
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(ps, func(i, j int) bool {
		if desc {
			return less(ps[j], ps[i])
		}
		return less(ps[i], ps[j])
	})
}
