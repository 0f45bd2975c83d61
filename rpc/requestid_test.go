package rpc

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDInterceptor(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		wantID   string
		wantUUID bool
	}{
		{
			name:   "from context",
			ctx:    WithRequestID(context.Background(), "req-123_abc"),
			wantID: "req-123_abc",
		},
		{
			name:     "generated when missing",
			ctx:      context.Background(),
			wantUUID: true,
		},
		{
			name:     "replaced when unsafe",
			ctx:      WithRequestID(context.Background(), "bad\r\nX-Injected: 1"),
			wantUUID: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			transport := func(_ context.Context, req *Request, _ any) error {
				got = req.Header.Get(RequestIDHeader)
				return nil
			}
			client := NewClientWithTransport(transport, WithInterceptors(RequestIDInterceptor()))

			if err := client.Call(tt.ctx, "console.v1.OrganizationService/ListOrganizations", nil, nil); err != nil {
				t.Fatalf("Call() error = %v", err)
			}

			if tt.wantUUID {
				if _, err := uuid.Parse(got); err != nil {
					t.Errorf("request ID %q is not a UUID: %v", got, err)
				}
				return
			}
			if got != tt.wantID {
				t.Errorf("request ID = %q, want %q", got, tt.wantID)
			}
		})
	}
}
