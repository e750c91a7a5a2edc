package httputil

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/calltracer/internal/tracestore"
)

// GetAddressParameter reads a routine address from the key query parameter.
// Decimal, 0x hex and 0o octal are accepted. On a missing or invalid value,
// it writes a 400 with the reason and returns false.
func GetAddressParameter(w http.ResponseWriter, r *http.Request, key string) (uint64, zerolog.Logger, bool) {
	value := r.URL.Query().Get(key)
	if value == "" {
		http.Error(w, fmt.Sprintf("expected %s query parameter", key), http.StatusBadRequest)
		return 0, zerolog.Nop(), false
	}
	logger := log.With().Str(key, value).Logger()
	address, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		logger.Debug().Err(err).Msg("invalid address")
		http.Error(w, fmt.Sprintf("invalid %s query parameter", key), http.StatusBadRequest)
		return 0, zerolog.Nop(), false
	}
	return address, logger, true
}

// GetThreadID reads the thread_id route parameter.
func GetThreadID(w http.ResponseWriter, r *http.Request) (tracestore.ThreadID, bool) {
	value := httprouter.ParamsFromContext(r.Context()).ByName("thread_id")
	tid, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		http.Error(w, "invalid thread id", http.StatusBadRequest)
		return 0, false
	}
	return tracestore.ThreadID(tid), true
}
