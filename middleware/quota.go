package middleware

import (
	"net/http"
	"strconv"

	"github.com/tidegate/authcore"
)

// DeviceHeader carries the anonymous device identifier used for quota
// accounting when no access token is present.
const DeviceHeader = "X-Device-ID"

// EnforceQuota charges count units of the caller's daily quota before
// the handler runs. The subject is the authenticated identity when
// [Guard] ran earlier in the chain, otherwise the device header. At the
// limit the request is answered 429 without reaching the handler; a
// request with neither identity nor device id is answered 400.
//
// Successful responses carry X-Quota-Remaining (-1 for unlimited
// plans).
func EnforceQuota(engine *authcore.Engine, count int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity int64
			if claims, ok := ClaimsFromContext(r.Context()); ok {
				identity = claims.UserID
			}
			deviceID := r.Header.Get(DeviceHeader)
			if identity == 0 && deviceID == "" {
				http.Error(w, "device id required", http.StatusBadRequest)
				return
			}

			decision, err := engine.CheckQuota(r.Context(), identity, deviceID, count)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !decision.Allowed {
				w.Header().Set("X-Quota-Remaining", "0")
				http.Error(w, "quota exceeded", http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-Quota-Remaining", strconv.FormatInt(decision.Remaining, 10))
			next.ServeHTTP(w, r)
		})
	}
}
