package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Cursor is the opaque position carried by a page token.
type Cursor struct {
	Offset int `json:"offset"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

// Limit clamps the requested page size.
func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	}
	return p.PageSize
}

// Offset decodes the page token. An empty token starts at zero.
func (p Pagination) Offset() (int, error) {
	if p.PageToken == "" {
		return 0, nil
	}
	cursor, err := DecodeCursor(p.PageToken)
	if err != nil || cursor.Offset < 0 {
		return 0, ErrInvalidPageToken
	}
	return cursor.Offset, nil
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildOffsetPageInfo expects data fetched with limit+1 rows and trims the
// probe row.
func BuildOffsetPageInfo[T any](data []T, offset, limit int) ([]T, PageInfo) {
	if len(data) <= limit {
		return data, PageInfo{}
	}
	token, _ := EncodeCursor(Cursor{Offset: offset + limit})
	return data[:limit], PageInfo{HasMore: true, NextPageToken: token}
}
