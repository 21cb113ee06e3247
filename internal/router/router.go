package router

import (
	"net/http"

	"github.com/pelicanone/backend/internal/auth"
	"github.com/pelicanone/backend/internal/billing"
	"github.com/pelicanone/backend/internal/files"
	"github.com/pelicanone/backend/internal/jobs"
	"github.com/pelicanone/backend/internal/presets"
)

// New returns an http.Handler that serves the API under /api/v1. Auth,
// preset listing and health are public; everything else requires a Bearer
// token. The admin endpoint carries its own shared-secret gate.
func New(
	authHandler *auth.Handler,
	presetsHandler *presets.Handler,
	jobsHandler *jobs.Handler,
	billingHandler *billing.Handler,
	filesHandler *files.Handler,
	requireAuth func(http.Handler) http.Handler,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc("GET "+base+"/health", health)
	mux.HandleFunc("POST "+base+"/auth/telegram", authHandler.Telegram)
	mux.HandleFunc("POST "+base+"/auth/vk", authHandler.VK)
	mux.HandleFunc("POST "+base+"/auth/dev", authHandler.Dev)
	mux.HandleFunc("GET "+base+"/presets", presetsHandler.List)

	authed := func(h http.HandlerFunc) http.Handler { return requireAuth(h) }
	mux.Handle("POST "+base+"/jobs", authed(jobsHandler.Create))
	mux.Handle("GET "+base+"/jobs", authed(jobsHandler.List))
	mux.Handle("GET "+base+"/jobs/{job_id}", authed(jobsHandler.Get))
	mux.Handle("GET "+base+"/jobs/{job_id}/result", authed(jobsHandler.Result))
	mux.Handle("POST "+base+"/jobs/{job_id}/cancel", authed(jobsHandler.Cancel))

	mux.Handle("POST "+base+"/billing/topup", authed(billingHandler.TopUp))
	mux.Handle("GET "+base+"/credits/balance", authed(billingHandler.Balance))
	mux.Handle("GET "+base+"/credits/ledger", authed(billingHandler.Ledger))
	mux.Handle("GET "+base+"/credits/tx", authed(billingHandler.Ledger))

	mux.Handle("GET "+base+"/files/{job_id}/{filename}", authed(filesHandler.ServeFile))

	mux.HandleFunc("POST "+base+"/admin/credits/add", billingHandler.AdminAdd)

	return mux
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
