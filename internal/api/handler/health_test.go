package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okPing(context.Context) error { return nil }

func TestHealth_AllOK(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": PingFunc(okPing),
		"cache":    PingFunc(okPing),
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data struct {
			Status   string            `json:"status"`
			Services map[string]string `json:"services"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "ok", env.Data.Status)
	assert.Equal(t, map[string]string{"database": "ok", "cache": "ok"}, env.Data.Services)
}

func TestHealth_Degraded(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": PingFunc(okPing),
		"broker": PingFunc(func(context.Context) error {
			return errors.New("dial tcp: connection refused")
		}),
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var env struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "DEGRADED", env.Error.Code)
	assert.Equal(t, "degraded", env.Error.Details["broker"])
	assert.Equal(t, "ok", env.Error.Details["database"])
}
