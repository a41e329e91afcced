// clientip.go — определение IP-адреса клиента для журнала аудита.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/bigkaa/goartstore/document-module/internal/service"
)

// ClientIP помещает адрес клиента в контекст запроса (service.WithSourceAddress).
// Порядок: первый адрес X-Forwarded-For, X-Real-IP, RemoteAddr.
func ClientIP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := service.WithSourceAddress(r.Context(), clientAddress(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := normalizeIP(first); ip != "" {
			return ip
		}
	}
	if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return normalizeIP(host)
}

// normalizeIP возвращает IPv4 для IPv4-mapped адресов (::ffff:10.0.0.1 → 10.0.0.1).
// Невалидное значение — пустая строка.
func normalizeIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
