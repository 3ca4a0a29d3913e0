package objectstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *S3Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := NewS3Store(context.Background(), config.S3Config{
		Bucket:          "resumes",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
	})
	require.NoError(t, err)
	return store
}

func s3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>` + code +
		`</Code><Message>test</Message></Error>`))
}

func TestS3Store_Get(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantData string
		wantErr  error
	}{
		{
			name: "returns object body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/resumes/owner-1/cv.pdf", r.URL.Path)
				_, _ = w.Write([]byte("%PDF-1.4 body"))
			},
			wantData: "%PDF-1.4 body",
		},
		{
			name: "missing key",
			handler: func(w http.ResponseWriter, r *http.Request) {
				s3Error(w, http.StatusNotFound, "NoSuchKey")
			},
			wantErr: storage.ErrObjectNotFound,
		},
		{
			name: "access denied counts as unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				s3Error(w, http.StatusForbidden, "AccessDenied")
			},
			wantErr: storage.ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, tt.handler)

			data, err := store.Get(context.Background(), "owner-1/cv.pdf")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantData, string(data))
		})
	}
}

func TestS3Store_Delete(t *testing.T) {
	var method string
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, store.Delete(context.Background(), "owner-1/cv.pdf"))
	assert.Equal(t, http.MethodDelete, method)
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "typed no such key", err: &types.NoSuchKey{}, want: storage.ErrObjectNotFound},
		{name: "typed not found", err: &types.NotFound{}, want: storage.ErrObjectNotFound},
		{name: "api error code", err: &smithy.GenericAPIError{Code: "NotFound"}, want: storage.ErrObjectNotFound},
		{name: "throttled", err: &smithy.GenericAPIError{Code: "SlowDown"}, want: storage.ErrUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: storage.ErrUnavailable},
		{name: "network", err: errors.New("dial tcp: connection refused"), want: storage.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapError("get", "k", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, strings.HasPrefix(err.Error(), `s3 get "k"`))
		})
	}
}
