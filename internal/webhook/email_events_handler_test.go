package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
)

type memBounces struct {
	bounces []*domain.EmailBounce
	err     error
}

func (m *memBounces) Create(_ context.Context, b *domain.EmailBounce) error {
	if m.err != nil {
		return m.err
	}
	m.bounces = append(m.bounces, b)
	return nil
}

func postEvent(h *EmailEventHandler, body string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhooks/email-events", h.HandleEmailEvent)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email-events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleEmailEvent(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantType string
	}{
		{
			name:     "permanent bounce is hard",
			body:     `{"type":"email.bounced","created_at":"2026-10-15T08:00:00Z","data":{"email_id":"e1","to":["gone@example.com"],"bounce":{"type":"Permanent","message":"mailbox does not exist"}}}`,
			wantCode: http.StatusOK,
			wantType: BounceHard,
		},
		{
			name:     "transient bounce is soft",
			body:     `{"type":"email.bounced","data":{"to":["full@example.com"],"bounce":{"type":"Transient"}}}`,
			wantCode: http.StatusOK,
			wantType: BounceSoft,
		},
		{
			name:     "complaint",
			body:     `{"type":"email.complained","data":{"to":["angry@example.com"]}}`,
			wantCode: http.StatusOK,
			wantType: BounceComplaint,
		},
		{
			name:     "delivered is ignored",
			body:     `{"type":"email.delivered","data":{"to":["ok@example.com"]}}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "missing type",
			body:     `{"data":{}}`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memBounces{}
			w := postEvent(NewEmailEventHandler(repo, logger.Nop()), tt.body)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantType == "" {
				assert.Empty(t, repo.bounces)
				return
			}
			require.Len(t, repo.bounces, 1)
			assert.Equal(t, tt.wantType, repo.bounces[0].Type)
		})
	}
}

func TestHandleEmailEvent_StoreFailure(t *testing.T) {
	repo := &memBounces{err: errors.New("mongo down")}
	w := postEvent(NewEmailEventHandler(repo, logger.Nop()), `{"type":"email.complained","data":{"to":["a@example.com"]}}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
