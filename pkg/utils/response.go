package utils

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// StatusResponse 是表单提交类接口的统一结果格式
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// RespondError 发送 {"error": message} 错误响应，用于只读查询接口
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondStatusError 发送 {"status":"error","message":...}，用于提交类接口
func RespondStatusError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, StatusResponse{Status: "error", Message: message})
}
