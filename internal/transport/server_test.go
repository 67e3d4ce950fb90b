package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

func TestHealthOverGRPC(t *testing.T) {
	srv := NewServer()
	lis := bufconn.Listen(bufSize)
	go func() { _ = srv.ServeListener(lis) }()
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dial := grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() })
	creds := grpc.WithTransportCredentials(insecure.NewCredentials())

	// the port is ignored by the bufconn dialer
	status, err := Check(ctx, 0, dial, creds)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	srv.SetServing(true)
	status, err = Check(ctx, 0, dial, creds)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)
}
