package httpapi

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/server/auth"
	"github.com/dmitrijs2005/certkeeper/internal/server/ratelimit"
)

type ctxKey string

const (
	subjectKey ctxKey = "subject"
	localeKey  ctxKey = "locale"
)

var tracer = otel.Tracer("github.com/dmitrijs2005/certkeeper/internal/server/httpapi")

func subjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

func localeFrom(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(localeKey).(language.Tag); ok {
		return tag
	}
	return language.English
}

// routePattern returns the matched chi pattern, or the raw path before
// routing has completed.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func (a *API) tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			))
		defer span.End()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetName(r.Method + " " + routePattern(r))
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.log.Info(r.Context(), "http request",
			"method", r.Method,
			"route", routePattern(r),
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				a.log.Error(r.Context(), "panic in handler", "panic", p, "stack", string(debug.Stack()))
				a.writeError(w, r, errInternal, nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// locale resolves the response language once per request.
func (a *API) locale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag := a.translator.Resolve(r.URL.Query().Get(common.LocaleQueryParam), r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Language", tag.String())
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), localeKey, tag)))
	})
}

// authenticate requires an admin bearer token and records its subject.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		token, ok := strings.CutPrefix(header, common.BearerPrefix)
		if !ok || token == "" {
			a.writeError(w, r, errUnauthorized, nil)
			return
		}
		subject, err := auth.SubjectFromToken(token, a.secret)
		if err != nil {
			a.log.Debug(r.Context(), "bearer token rejected", "error", err)
			a.writeError(w, r, errUnauthorized, nil)
			return
		}
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("enduser.id", subject))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, subject)))
	})
}

// rateLimit throttles per client IP. Limiter failures let the request
// through.
func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, retryAfter, err := a.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			a.log.Warn(r.Context(), "rate limiter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", ratelimit.RetryAfterSeconds(retryAfter))
			a.writeError(w, r, errRateLimited, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the caller address after RealIP has run.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
