package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"smarthouse-data/internal/domain"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// pathID 去掉前缀后的单段 id；多段或为空返回 false
func pathID(path, prefix string) (string, bool) {
	id := strings.TrimPrefix(path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Actor 请求头中的会话信息（由前置的会话服务注入）
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserName  = "X-User-Name"
	HeaderUserAdmin = "X-User-Admin"
)

func actorFrom(r *http.Request) (domain.Actor, bool) {
	uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if uid == "" {
		return domain.Actor{}, false
	}
	return domain.Actor{
		UID:     uid,
		Name:    strings.TrimSpace(r.Header.Get(HeaderUserName)),
		IsAdmin: parseBool(r.Header.Get(HeaderUserAdmin), false),
	}, true
}
