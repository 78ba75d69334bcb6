// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound はストレージ上にレコードが存在しないことを示す。
var ErrNotFound = errors.New("record not found")

// ErrorKind はアプリケーションエラーの種別を表す。
type ErrorKind int

const (
	// KindDatabase はストレージ操作の失敗。
	KindDatabase ErrorKind = iota + 1
	// KindHTTP はリモートインスタンスへの通信がトランスポート層で失敗したことを示す。
	KindHTTP
	// KindURL はURLの構築・解析の失敗。
	KindURL
	// KindInvalidPath は必須入力の欠落や不正なパス。
	KindInvalidPath
	// KindRemote はリモートインスタンスが構造化エラーを返したことを示す。
	KindRemote
	// KindRegistration はアプリ登録レスポンスに認証情報が含まれなかったことを示す。
	KindRegistration
	// KindBanned はインスタンスまたはユーザーが利用停止中であることを示す。
	KindBanned
)

// String はエラー種別の名前を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindHTTP:
		return "http_client"
	case KindURL:
		return "invalid_url"
	case KindInvalidPath:
		return "invalid_path"
	case KindRemote:
		return "remote"
	case KindRegistration:
		return "registration"
	case KindBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// Error はFediurlのエラー型。種別ごとに原因となるエラーを保持する。
type Error struct {
	Kind ErrorKind
	Op   string // 失敗した操作名（ログ用）
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap は原因となるエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// RemoteError はリモートインスタンスが返したエラーボディ。
// ステータスと説明は加工せずに保持する。
type RemoteError struct {
	Status      int    `json:"status"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// Error はerrorインターフェースを実装する。
func (e *RemoteError) Error() string {
	return e.Description
}

// NewDatabaseError はストレージ操作の失敗を包む。
func NewDatabaseError(op string, err error) *Error {
	return &Error{Kind: KindDatabase, Op: op, Err: err}
}

// NewNotFoundError はレコード未検出のデータベースエラーを生成する。
func NewNotFoundError(op string) *Error {
	return &Error{Kind: KindDatabase, Op: op, Err: ErrNotFound}
}

// NewHTTPError はリモート通信のトランスポート失敗を包む。
func NewHTTPError(op string, err error) *Error {
	return &Error{Kind: KindHTTP, Op: op, Err: err}
}

// NewURLError はURLの構築・解析失敗を包む。
func NewURLError(op string, err error) *Error {
	return &Error{Kind: KindURL, Op: op, Err: err}
}

// NewInvalidPathError は必須入力の欠落を表すエラーを生成する。
func NewInvalidPathError(op string) *Error {
	return &Error{Kind: KindInvalidPath, Op: op, Err: errors.New("path or URL was invalid or not found")}
}

// NewRemoteError はリモートインスタンスのエラーボディを包む。
func NewRemoteError(op string, remote *RemoteError) *Error {
	return &Error{Kind: KindRemote, Op: op, Err: remote}
}

// NewRegistrationError はアプリ登録の失敗を表すエラーを生成する。
func NewRegistrationError(op, reason string) *Error {
	return &Error{Kind: KindRegistration, Op: op, Err: errors.New(reason)}
}

// NewBannedError は利用停止中の対象へのアクセスを表すエラーを生成する。
func NewBannedError(op string, until time.Time) *Error {
	return &Error{Kind: KindBanned, Op: op, Err: fmt.Errorf("banned until %s", until.UTC().Format(time.RFC3339))}
}

// KindOf はエラーチェーンからエラー種別を取り出す。該当しない場合は0を返す。
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Presentation はエラーの提示形式（HTTPステータスとJSONのエラーコード・説明）。
type Presentation struct {
	Status      int
	Code        string
	Description string
}

// Describe はエラーを提示形式へ変換する。
// すべてのエラー種別の変換はこの関数に集約する。
func Describe(err error) Presentation {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return Presentation{Status: remote.Status, Code: remote.Code, Description: remote.Description}
	}

	var e *Error
	if !errors.As(err, &e) {
		return Presentation{
			Status:      http.StatusInternalServerError,
			Code:        "internal",
			Description: "internal server error",
		}
	}

	switch e.Kind {
	case KindDatabase:
		if errors.Is(e.Err, ErrNotFound) {
			return Presentation{Status: http.StatusNotFound, Code: "database", Description: e.Err.Error()}
		}
		return Presentation{Status: http.StatusInternalServerError, Code: "database", Description: e.Err.Error()}
	case KindHTTP:
		return Presentation{Status: http.StatusInternalServerError, Code: "http_client", Description: e.Err.Error()}
	case KindURL:
		return Presentation{Status: http.StatusBadRequest, Code: "invalid_url", Description: e.Err.Error()}
	case KindInvalidPath:
		return Presentation{Status: http.StatusNotFound, Code: "invalid_path", Description: "path or URL was invalid or not found"}
	case KindRegistration:
		return Presentation{Status: http.StatusBadGateway, Code: "registration", Description: e.Err.Error()}
	case KindBanned:
		return Presentation{Status: http.StatusForbidden, Code: "banned", Description: e.Err.Error()}
	case KindRemote:
		// NewRemoteError経由のKindRemoteは上のerrors.Asで処理済み
		return Presentation{Status: http.StatusBadGateway, Code: "http_client", Description: "Request to instance was unsuccessful."}
	default:
		return Presentation{Status: http.StatusInternalServerError, Code: "internal", Description: "internal server error"}
	}
}
