package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/expenseflow/approval-engine/internal/engine"
)

func TestNewRequestNumber(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n := newRequestNumber()
		assert.True(t, strings.HasPrefix(n, "EXP-"))
		assert.Len(t, n, 12)
		assert.False(t, seen[n], "request numbers must not repeat")
		seen[n] = true
	}
}

func TestEngineErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handlers{logger: zap.NewNop()}

	tests := []struct {
		err        error
		wantStatus int
	}{
		{engine.ErrExpenseNotFound, http.StatusNotFound},
		{engine.ErrTaskNotFound, http.StatusNotFound},
		{engine.ErrWorkflowNotFound, http.StatusUnprocessableEntity},
		{engine.ErrNotAuthorized, http.StatusForbidden},
		{engine.ErrInvalidState, http.StatusConflict},
		{engine.ErrConflict, http.StatusConflict},
		{engine.ErrValidation, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", engine.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("some sql failure"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			h.engineError(c, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
