package httpdispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"skylift/internal/routes"
	"skylift/pkg/event"
)

// cacheableMethods are the methods eligible for Cache-Control and ETag
// derivation on 200 responses.
var cacheableMethods = map[string]bool{
	http.MethodGet:   true,
	http.MethodHead:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Normalize converts a handler return value into a canonical wire response
// by type dispatch: a structured response passes through, a string becomes
// text/plain, a byte slice becomes application/octet-stream, nil becomes an
// empty 204, and anything else is JSON-serialized.
func Normalize(result any, route *routes.Route, method string) (*event.Response, error) {
	var resp *event.Response

	switch v := result.(type) {
	case *event.Response:
		resp = v
		if resp.StatusCode == 0 {
			resp.StatusCode = http.StatusOK
		}
	case nil:
		resp = &event.Response{StatusCode: http.StatusNoContent}
	case string:
		resp = &event.Response{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       []byte(v),
		}
	case []byte:
		resp = &event.Response{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "application/octet-stream"},
			Body:       v,
		}
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize handler result: %w", err)
		}
		resp = &event.Response{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       body,
		}
	}

	if len(resp.Body) > 0 && !resp.HasHeader("Content-Length") {
		resp.SetHeader("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	applyCacheHeaders(resp, result, route, method)
	return resp, nil
}

// applyCacheHeaders derives Cache-Control and ETag for cacheable methods on
// 200 responses. The route supplies either a static max-age or a function
// of the handler result; ETag is a content hash unless disabled.
func applyCacheHeaders(resp *event.Response, result any, route *routes.Route, method string) {
	if !cacheableMethods[method] || resp.StatusCode != http.StatusOK {
		return
	}

	if !resp.HasHeader("Cache-Control") {
		switch {
		case route.CacheControl != nil:
			if value := route.CacheControl(result); value != "" {
				resp.SetHeader("Cache-Control", value)
			}
		case route.CacheSeconds > 0:
			resp.SetHeader("Cache-Control", fmt.Sprintf("private, max-age=%d, must-revalidate", route.CacheSeconds))
		}
	}

	if !route.NoETag && len(resp.Body) > 0 && !resp.HasHeader("ETag") {
		sum := sha256.Sum256(resp.Body)
		resp.SetHeader("ETag", `"`+hex.EncodeToString(sum[:16])+`"`)
	}
}
