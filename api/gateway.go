package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// StartAdminServer starts a gRPC server alongside the admin HTTP mux.
// RegisterGRPC/RegisterGateway are permanent no-op/always-fail stubs since
// this coordinator ships no protobuf service definitions; StartAdminServer
// falls back to AdminAPIServer.RegisterHTTP's native handlers whenever the
// gateway registration fails, which today is always. The gRPC listener
// itself stays up regardless, so a future protobuf service can be
// registered onto it without touching this wiring.
func StartAdminServer(ctx context.Context, grpcAddr, httpAddr string, impl *AdminAPIServer) (grpcStop func(), httpStop func(), err error) {
	grpcServer := grpc.NewServer()
	RegisterGRPC(grpcServer, impl)

	l, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return nil, nil, err
	}
	go func() { _ = grpcServer.Serve(l) }()
	grpcStop = func() { grpcServer.GracefulStop(); _ = l.Close() }

	mux := http.NewServeMux()
	gw := runtime.NewServeMux(runtime.WithErrorHandler(jsonErrorHandler))
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if err := RegisterGateway(ctx, gw, grpcAddr, dialOpts); err == nil {
		mux.Handle("/", gw)
	} else {
		impl.RegisterHTTP(mux)
	}

	httpServer := &http.Server{Addr: httpAddr, Handler: mux}
	go func() { _ = httpServer.ListenAndServe() }()
	httpStop = func() { _ = httpServer.Close() }

	return grpcStop, httpStop, nil
}

// jsonErrorHandler converts grpc-gateway errors into the same JSON error
// shape writeJSONError produces, so a future protobuf-backed endpoint and
// today's native handlers look identical to callers.
func jsonErrorHandler(ctx context.Context, mux *runtime.ServeMux, marshaler runtime.Marshaler, w http.ResponseWriter, r *http.Request, err error) {
	st, ok := status.FromError(err)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(jsonErrorBody{Error: "internal error"})
		return
	}
	httpStatus := runtime.HTTPStatusFromCode(st.Code())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(jsonErrorBody{Error: st.Message()})
}
