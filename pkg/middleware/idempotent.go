package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aretw0/idem/internal/logging"
	"github.com/aretw0/idem/pkg/domain"
	"github.com/aretw0/idem/pkg/guard"
)

const (
	// DefaultTokenHeader carries the optional caller-supplied request token.
	DefaultTokenHeader = "Idempotency-Key"

	// ReplayedHeader is set on responses served from a stored result.
	ReplayedHeader = "Idempotent-Replayed"

	// CallerHeader is the fallback source of the caller identity.
	CallerHeader = "X-Caller-ID"
)

// Error codes in the JSON error body.
const (
	CodeRepeatRequest   = "REPEAT_REQUEST"
	CodeSystemError     = "SYSTEM_ERROR"
	CodeStoreError      = "STORE_UNAVAILABLE"
	CodeKeyMissing      = "IDEMPOTENCY_KEY_MISSING"
	CodeInvalidIdentity = "INVALID_IDENTITY"
)

// IdentityFunc extracts the caller identity from a request.
type IdentityFunc func(r *http.Request) string

// Options configures one guarded handler.
type Options struct {
	Policy domain.Policy

	// Identity defaults to DefaultIdentity.
	Identity IdentityFunc

	// TokenHeader defaults to DefaultTokenHeader.
	TokenHeader string

	// RequireToken rejects requests without a token header.
	RequireToken bool

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Identity == nil {
		o.Identity = DefaultIdentity
	}
	if o.TokenHeader == "" {
		o.TokenHeader = DefaultTokenHeader
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

// DefaultIdentity reads the "openid" query or form parameter, then the X-Caller-ID header.
func DefaultIdentity(r *http.Request) string {
	if id := r.FormValue("openid"); id != "" {
		return id
	}
	return r.Header.Get(CallerHeader)
}

// ErrorBody is the JSON body written for guard errors.
type ErrorBody struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Idempotent wraps next with g.RunOnce using opts.
func Idempotent(g *guard.Guard, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			serve(g, opts, next, w, r)
		})
	}
}

// ByRoute guards requests whose path has an entry in routes and passes the rest through.
func ByRoute(g *guard.Guard, routes map[string]Options) func(http.Handler) http.Handler {
	prepared := make(map[string]Options, len(routes))
	for path, opts := range routes {
		prepared[path] = opts.withDefaults()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			opts, ok := prepared[r.URL.Path]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			serve(g, opts, next, w, r)
		})
	}
}

func serve(g *guard.Guard, opts Options, next http.Handler, w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(opts.TokenHeader)
	if opts.RequireToken && token == "" {
		writeError(w, http.StatusBadRequest, CodeKeyMissing, opts.TokenHeader+" header is required")
		return
	}

	req := guard.Request{
		Identity: opts.Identity(r),
		Path:     r.URL.Path,
		Token:    token,
	}

	res, err := g.RunOnce(r.Context(), req, opts.Policy, func(ctx context.Context) (any, error) {
		rec := newRecorder()
		next.ServeHTTP(rec, r.WithContext(ctx))
		resp := rec.response()
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &handlerError{resp: resp}
		}
		return resp, nil
	})
	if err != nil {
		handleError(w, opts, err)
		return
	}

	if res.Replayed {
		var cached CachedResponse
		if err := json.Unmarshal(res.Payload, &cached); err != nil {
			opts.Logger.Error("Stored response is corrupt", "key", res.Key, "err", err)
			writeError(w, http.StatusInternalServerError, CodeSystemError, "stored response is unreadable")
			return
		}
		w.Header().Set(ReplayedHeader, "true")
		cached.Replay(w)
		return
	}

	res.Value.(*CachedResponse).Replay(w)
}

func handleError(w http.ResponseWriter, opts Options, err error) {
	var failed *handlerError
	var repeat *domain.RepeatRequestError

	switch {
	case errors.As(err, &failed):
		failed.resp.Replay(w)
	case errors.As(err, &repeat):
		writeError(w, http.StatusConflict, CodeRepeatRequest, repeat.Message)
	case errors.Is(err, domain.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, CodeInvalidIdentity, "caller identity is required")
	case errors.Is(err, domain.ErrLockAcquisition):
		writeError(w, http.StatusServiceUnavailable, CodeSystemError, "request is being processed, try again later")
	case errors.Is(err, domain.ErrStoreUnavailable):
		opts.Logger.Error("Idempotency store unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, CodeStoreError, "idempotency store unavailable")
	default:
		opts.Logger.Error("Guarded request failed", "err", err)
		writeError(w, http.StatusInternalServerError, CodeSystemError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Code: code, Msg: msg})
}
