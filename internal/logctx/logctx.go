package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates every record with the request and auth data found on the
// context it is logged with.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if ad, ok := ctx.Value(authDataKey{}).(*AuthData); ok {
		r.AddAttrs(slog.Group("auth",
			slog.String("sub", ad.Subject),
			slog.String("permission", ad.Permission),
		))
	}

	return h.Handler.Handle(ctx, r)
}

// Wrap returns h decorated with a Handler. A handler that is already
// decorated is returned as is, so context groups are added once.
func Wrap(h slog.Handler) slog.Handler {
	if _, ok := h.(Handler); ok {
		return h
	}
	return Handler{Handler: h}
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

// RequestID returns the id assigned to the request carried by ctx, if any.
func RequestID(ctx context.Context) string {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd.RequestID
	}
	return ""
}

type authDataKey struct{}

type AuthData struct {
	Subject    string
	Permission string
}

func WithAuthData(ctx context.Context, data *AuthData) context.Context {
	return context.WithValue(ctx, authDataKey{}, data)
}
