package http

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/adapters/restapi"
	"github.com/xwp/wp-customize-rest-resources/app"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
)

// Query arguments read by the preview middleware.
const (
	ParamCustomized     = "customized"
	ParamMethodOverride = "_method"
)

// NewPreviewMiddleware prepares REST requests made from the preview:
//
//   - a POST carrying _method is tunnelled through X-HTTP-Method-Override;
//   - a request sending the edit-context header gets context=edit;
//   - a customized argument stages its resources for the request, so
//     responses serve the staged values in place of the live ones.
func NewPreviewMiddleware(apiRoot string, logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			r = r.Clone(r.Context())

			if r.Method == http.MethodPost && r.Header.Get(rest.HeaderMethodOverride) == "" {
				if m := q.Get(ParamMethodOverride); m != "" {
					r.Header.Set(rest.HeaderMethodOverride, strings.ToUpper(m))
				}
			}
			if r.Header.Get(rest.HeaderEditContext) == rest.EditContext && q.Get("context") == "" {
				q.Set("context", rest.EditContext)
				r.URL.RawQuery = q.Encode()
			}

			raw := q.Get(ParamCustomized)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			o, err := app.ParseCustomized([]byte(raw), apiRoot)
			if err != nil {
				logger.Debug().Err(err).Str("path", r.URL.Path).Msg("rejecting customized argument")
				writeError(w, http.StatusBadRequest, rest.CodeInvalidParam, "Invalid parameter(s): customized")
				return
			}

			ctx := app.WithOverrides(r.Context(), o)
			ctx = restapi.WithResponseFilter(ctx, o.FilterResponse)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
