package middleware

import (
	"fmt"
	"net/http"
	"time"
)

// responseTimeWriter はヘッダー送信の直前にX-Response-Timeを付与する。
type responseTimeWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (w *responseTimeWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.Header().Set("X-Response-Time", FormatResponseTime(time.Since(w.start)))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseTimeWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// NewResponseTimeMiddleware はX-Response-Timeヘッダーを付与するミドルウェアを返す。
func NewResponseTimeMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseTimeWriter{ResponseWriter: w, start: time.Now()}
			next.ServeHTTP(rw, r)
			if !rw.wroteHeader {
				rw.WriteHeader(http.StatusOK)
			}
		})
	}
}

// FormatResponseTime は1ms未満をマイクロ秒、それ以上をミリ秒で表す。
func FormatResponseTime(d time.Duration) string {
	us := d.Microseconds()
	if us < 1000 {
		return fmt.Sprintf("%d us", us)
	}
	return fmt.Sprintf("%d ms", us/1000)
}
