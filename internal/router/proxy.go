package router

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/authz"
)

// Identity headers set on requests forwarded to the prompt service.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderUserAdmin = "X-User-Admin"
)

// PromptProxy forwards authenticated prompt submissions to target, passing
// the caller's claims as identity headers instead of the bearer token.
func PromptProxy(target *url.URL, logger *zap.SugaredLogger) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Authorization")
			for _, h := range []string{HeaderUserID, HeaderUserName, HeaderUserAdmin} {
				pr.Out.Header.Del(h)
			}
			if claims, ok := authz.ClaimsFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set(HeaderUserID, claims.ID)
				pr.Out.Header.Set(HeaderUserName, claims.Name)
				pr.Out.Header.Set(HeaderUserAdmin, strconv.FormatBool(claims.IsAdmin))
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if logger != nil {
				logger.Errorw("prompt service unreachable", "target", target.String(), "err", err)
			}
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}
