package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// AccountIDHeader carries the account id when bearer tokens are not configured.
	AccountIDHeader = "X-Account-ID"
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

var tracer = otel.Tracer("harrier-api")

type scopeKey struct{}

// requestScope is created once per request by TracingMiddleware.
// Inner middleware fill it in so the request logger sees what they resolved.
type requestScope struct {
	requestID string
	traceID   string
	accountID string
}

func scopeFrom(ctx context.Context) *requestScope {
	s, _ := ctx.Value(scopeKey{}).(*requestScope)
	return s
}

// withScope returns ctx carrying a scope, reusing one that is already there.
func withScope(ctx context.Context) (context.Context, *requestScope) {
	if s := scopeFrom(ctx); s != nil {
		return ctx, s
	}
	s := &requestScope{}
	return context.WithValue(ctx, scopeKey{}, s), s
}

// AccountMiddleware resolves the calling account.
// With a validator the id is the token's sub claim; otherwise the X-Account-ID header is trusted.
func AccountMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, msg := resolveAccount(r, validator)
			if accountID == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msg})
				return
			}

			ctx, scope := withScope(r.Context())
			scope.accountID = accountID
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("account.id", accountID))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveAccount returns the account id, or "" and the reason it was refused.
func resolveAccount(r *http.Request, validator TokenValidator) (string, string) {
	if validator == nil {
		if id := strings.TrimSpace(r.Header.Get(AccountIDHeader)); id != "" {
			return id, ""
		}
		return "", AccountIDHeader + " header is required"
	}

	scheme, token, _ := strings.Cut(r.Header.Get("Authorization"), " ")
	token = strings.TrimSpace(token)
	if !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", "bearer token is required"
	}
	claims, err := validator.Validate(r.Context(), token)
	if err != nil {
		slog.Debug("bearer token rejected", "error", err)
		return "", "invalid bearer token"
	}
	return claims.Subject, ""
}

// TracingMiddleware opens the server span and assigns request and trace ids.
// Without an SDK provider the span has no trace id, so the request id stands in.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, scope := withScope(r.Context())

		scope.requestID = r.Header.Get(RequestIDHeader)
		if scope.requestID == "" {
			scope.requestID = uuid.NewString()
		}

		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("request.id", scope.requestID),
			),
		)
		defer span.End()

		scope.traceID = scope.requestID
		if tid := span.SpanContext().TraceID(); tid.IsValid() {
			scope.traceID = tid.String()
		}

		w.Header().Set(RequestIDHeader, scope.requestID)
		w.Header().Set(TraceIDHeader, scope.traceID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

// LoggingMiddleware writes one line per request. Server errors log at error level.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, scope := withScope(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"account_id", scope.accountID,
			"request_id", scope.requestID,
			"trace_id", scope.traceID,
		)
	})
}

// RecoverMiddleware turns a handler panic into a 500 and logs the stack.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("panic recovered",
				"panic", rec,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		}()
		next.ServeHTTP(w, r)
	})
}

// GetAccountID returns the account resolved by AccountMiddleware, or "".
func GetAccountID(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.accountID
	}
	return ""
}

// GetTraceID returns the trace id assigned by TracingMiddleware, or "".
func GetTraceID(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.traceID
	}
	return ""
}
