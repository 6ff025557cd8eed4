package embrpc

import (
	"context"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// ServerOptions returns the standard interceptor chain (logging wraps
// recovery wraps the handler) every emberql gRPC server installs, the way
// the teacher wraps every Lambda/Whisk invocation with a log line plus a
// deferred recover-from-panic in handle() (function.go).
func ServerOptions(name string) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_middleware.ChainUnaryServer(
			loggingUnaryInterceptor(name),
			recoveryUnaryInterceptor(name),
		)),
		grpc.ChainStreamInterceptor(grpc_middleware.ChainStreamServer(
			loggingStreamInterceptor(name),
			recoveryStreamInterceptor(name),
		)),
	}
}

func loggingUnaryInterceptor(name string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.WithFields(log.Fields{
			"service": name,
			"method":  info.FullMethod,
			"elapsed": time.Since(start),
			"err":     err,
		}).Debug("rpc")
		return resp, err
	}
}

func loggingStreamInterceptor(name string) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		log.WithFields(log.Fields{
			"service": name,
			"method":  info.FullMethod,
			"elapsed": time.Since(start),
			"err":     err,
		}).Debug("rpc stream")
		return err
	}
}

func recoveryUnaryInterceptor(name string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{"service": name, "method": info.FullMethod}).Errorf("recovered panic: %v", r)
				err = context.DeadlineExceeded
			}
		}()
		return handler(ctx, req)
	}
}

func recoveryStreamInterceptor(name string) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{"service": name, "method": info.FullMethod}).Errorf("recovered panic: %v", r)
				err = context.DeadlineExceeded
			}
		}()
		return handler(srv, ss)
	}
}
