package pagination

import (
	"encoding/base64"
	"encoding/json"
)

// Pagination is the query-string shape for cursor-paged list endpoints.
type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=50" validate:"gte=1,lte=250"`
}

func (p Pagination) EffectiveLimit() int {
	if p.Limit < 1 || p.Limit > 250 {
		return 50
	}
	return p.Limit
}

// Cursor pins the position of the last row a client has seen.
type Cursor struct {
	CreatedAt string `json:"created_at,omitempty"`
	ID        string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// BuildPage trims an over-fetched result set (limit+1 rows) down to the page
// and derives the next cursor from the last visible row.
func BuildPage[T any](data []*T, limit int, extractCursor func(*T) Cursor) ([]*T, *PageInfo) {
	if len(data) == 0 {
		return data, &PageInfo{}
	}

	info := &PageInfo{}
	if len(data) > limit {
		info.HasMore = true
		data = data[:limit]
	}

	if info.HasMore {
		if next, err := EncodeCursor(extractCursor(data[len(data)-1])); err == nil {
			info.NextCursor = next
		}
	}
	return data, info
}
