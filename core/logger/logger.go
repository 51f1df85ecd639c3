// Package logger provides request scoped logrus loggers.
//
// Every request handled by the backend carries a logger with a request id
// and, once the caller has been authenticated, the caller identity.
package logger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Type for the context keys
type contextKeyRequestLoggerType struct{}

var contextKeyRequestLogger = &contextKeyRequestLoggerType{}

const (
	requestIDLoggerKey string = "requestID"
	identityLoggerKey  string = "identity"

	// RequestIDHeader is honoured when a proxy already assigned a request id
	RequestIDHeader = "X-Request-Id"
)

// InitLogger sets up the custom time formatter for all log statements.
func InitLogger(logLevel logrus.Level) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(logLevel)
}

// AddRequestID adds a logger with a request ID to every request routed through router.
func AddRequestID(router *mux.Router) {
	router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get(RequestIDHeader); len(id) > 0 && loggerFromContext(ctx) == nil {
				ctx = context.WithValue(ctx, contextKeyRequestLogger, logrus.WithField(requestIDLoggerKey, id))
			}
			ctx, rlog := ContextWithLogger(ctx)
			if id, ok := rlog.Data[requestIDLoggerKey].(string); ok {
				w.Header().Set(RequestIDHeader, id)
			}
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	})
}

// Default returns a logger without a request ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger returns a new context with a logger if the given context has no logger yet. If
// the context already has a logger the given context will be returned.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	rlog := logrus.WithField(requestIDLoggerKey, uuid.NewString())
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// ContextWithLoggerIdentity returns a new context whose logger carries the caller identity.
func ContextWithLoggerIdentity(ctx context.Context, identity string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	rlog = rlog.WithField(identityLoggerKey, identity)
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, _ := ctx.Value(contextKeyRequestLogger).(*logrus.Entry)
	return rlog
}

// FromContext returns the logger from the context. If the context does not have a logger
// the default logger is returned.
func FromContext(ctx context.Context) *logrus.Entry {
	if rlog := loggerFromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

// RequestIDFromContext returns the request id for the given context, or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return ""
	}
	s, _ := rlog.Data[requestIDLoggerKey].(string)
	return s
}
