package api

import (
	"context"
	"fmt"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
)

// RegisterGRPC is a permanent no-op: this coordinator has no protobuf
// service definitions to register against s.
func RegisterGRPC(s *grpc.Server, impl *AdminAPIServer) {}

// RegisterGateway always fails, which is exactly what StartAdminServer
// wants: it triggers the fall back to AdminAPIServer.RegisterHTTP's native
// net/http handlers instead of a grpc-gateway reverse proxy that has
// nothing to proxy to.
func RegisterGateway(ctx context.Context, mux *runtime.ServeMux, endpoint string, opts []grpc.DialOption) error {
	return fmt.Errorf("gateway not available: no protobuf stubs registered")
}
