package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/fediurl/internal/model"
)

// ErrorBody はJSON APIのエラーレスポンス。
// 書き換えAPIの {"type": "Error", ...} と同じ形を使う。
type ErrorBody struct {
	Type             string `json:"type"`
	Status           int    `json:"status"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewErrorBody はエラーの提示形式からErrorBodyを生成する。
func NewErrorBody(p model.Presentation) ErrorBody {
	return ErrorBody{
		Type:             "Error",
		Status:           p.Status,
		Error:            p.Code,
		ErrorDescription: p.Description,
	}
}

// WriteJSON はJSONレスポンスを書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse はErrorBodyを指定のHTTPステータスで書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, p model.Presentation) {
	WriteJSON(w, statusCode, NewErrorBody(p))
}
