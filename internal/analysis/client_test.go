package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/calorily/internal/apperror"
	"github.com/sakif/calorily/internal/model"
)

func TestSubmit_SendsWireFormat(t *testing.T) {
	var (
		gotAuth string
		gotBody submitBody
		gotPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"message":"queued"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second, nil)
	err := c.Submit(context.Background(), SubmitRequest{MealID: "m1", Image: []byte("photo"), Token: "tok"})
	require.NoError(t, err)

	assert.Equal(t, "/meals", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "m1", gotBody.MealID)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("photo")), gotBody.B64Img)
}

func TestSubmit_Classification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{"ack", http.StatusOK, `{}`, nil, ""},
		{"ack with empty body", http.StatusOK, ``, nil, ""},
		{"server error", http.StatusBadGateway, `oops`, apperror.ErrTransient, ""},
		{"rate limited", http.StatusTooManyRequests, ``, apperror.ErrTransient, ""},
		{"request timeout", http.StatusRequestTimeout, ``, apperror.ErrTransient, ""},
		{"bad request with string error", http.StatusBadRequest, `{"error":"image too large"}`, apperror.ErrRejected, "image too large"},
		{"bad request with object error", http.StatusUnprocessableEntity, `{"error":{"message":"not food"}}`, apperror.ErrRejected, "not food"},
		{"bad request with message", http.StatusBadRequest, `{"message":"nope"}`, apperror.ErrRejected, "nope"},
		{"bad request without body", http.StatusUnauthorized, ``, apperror.ErrRejected, "Failed to upload image"},
		{"ok but error field", http.StatusOK, `{"error":"quota exceeded"}`, apperror.ErrRejected, "quota exceeded"},
		{"ok but not json", http.StatusOK, `<html>`, apperror.ErrRejected, "Failed to upload image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewClient(srv.URL, time.Second, nil).Submit(context.Background(), SubmitRequest{MealID: "m"})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, apperror.Message(err))
			}
		})
	}
}

func TestSubmit_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewClient(url, time.Second, nil).Submit(context.Background(), SubmitRequest{MealID: "m"})
	assert.ErrorIs(t, err, apperror.ErrTransient)
}

func TestSubmit_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewClient(srv.URL, time.Second, nil).Submit(ctx, SubmitRequest{MealID: "m"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperror.ErrTransient)
}

func TestCompletion_Validate(t *testing.T) {
	analysis := &model.MealAnalysis{MealID: "m", MealName: "Soup"}

	tests := []struct {
		name  string
		c     Completion
		valid bool
	}{
		{"success", Completion{MealID: "m", Analysis: analysis}, true},
		{"failure", Completion{MealID: "m", FailureReason: "blurry"}, true},
		{"missing meal id", Completion{Analysis: analysis}, false},
		{"neither", Completion{MealID: "m"}, false},
		{"both", Completion{MealID: "m", Analysis: analysis, FailureReason: "x"}, false},
		{"mismatched ids", Completion{MealID: "other", Analysis: analysis}, false},
		{"derived macros", Completion{MealID: "m", Analysis: analysis, DerivedMacros: &model.Macros{Carbs: 10, Proteins: 5, Fats: 2}}, true},
		{"derived macros on failure", Completion{MealID: "m", FailureReason: "x", DerivedMacros: &model.Macros{}}, false},
		{"negative derived macros", Completion{MealID: "m", Analysis: analysis, DerivedMacros: &model.Macros{Fats: -1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperror.ErrValidation)
			}
		})
	}
	assert.False(t, Completion{MealID: "m", Analysis: analysis}.Failed())
	assert.True(t, Completion{MealID: "m", FailureReason: "x"}.Failed())
}
