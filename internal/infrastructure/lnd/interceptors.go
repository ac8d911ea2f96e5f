package lnd

import (
	"context"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/pkg/macaroon"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

func unaryMacaroonInterceptor(mac *macaroon.Credential) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context, method string, req, reply any,
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
	) error {
		return invoker(mac.WithContext(ctx), method, req, reply, cc, opts...)
	}
}

func streamMacaroonInterceptor(mac *macaroon.Credential) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn,
		method string, streamer grpc.Streamer, opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		return streamer(mac.WithContext(ctx), desc, cc, method, opts...)
	}
}

func unaryLogger(
	ctx context.Context, method string, req, reply any,
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
) error {
	start := time.Now()
	err := invoker(ctx, method, req, reply, cc, opts...)
	entry := log.WithFields(log.Fields{"method": method, "elapsed": time.Since(start)})
	if err != nil {
		entry.WithError(err).Debug("lnd call failed")
		return err
	}
	entry.Debug("lnd call")
	return nil
}

func streamLogger(
	ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn,
	method string, streamer grpc.Streamer, opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	stream, err := streamer(ctx, desc, cc, method, opts...)
	if err != nil {
		log.WithField("method", method).WithError(err).Debug("lnd stream failed")
		return nil, err
	}
	log.WithField("method", method).Debug("lnd stream opened")
	return stream, nil
}
