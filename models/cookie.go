package models

import (
	"encoding/json"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// CookieStore 浏览器 Cookie 存储，浏览器启动时恢复
type CookieStore struct {
	ID        string                 `json:"id"`
	URL       string                 `json:"url"`
	Cookies   []*proto.NetworkCookie `json:"cookies"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func (c *CookieStore) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

func (c *CookieStore) FromJSON(data []byte) error {
	return json.Unmarshal(data, c)
}
