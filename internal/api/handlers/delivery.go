package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	apicontext "pubarmour/internal/api/context"
	"pubarmour/internal/engine/gatekeeper"
	"pubarmour/internal/engine/licenses"
	"pubarmour/internal/engine/payload"
	"pubarmour/internal/engine/scripts"
	"pubarmour/internal/engine/tokens"
	"pubarmour/internal/platform/audit"
	"pubarmour/internal/platform/config"
)

// The query route accepts shorter device identifiers than the header routes
// because some clients can only pass them through a URL.
const loadMinDeviceIDLen = 4

var kickMessages = map[licenses.Reason]string{
	licenses.ReasonInvalid:        "Invalid key.",
	licenses.ReasonRevoked:        "Your key has been revoked.",
	licenses.ReasonExpired:        "Your key has expired.",
	licenses.ReasonUsed:           "Key usage limit reached.",
	licenses.ReasonDeviceMismatch: "Key is locked to a different device.",
}

// DeliveryDeps wires the pipeline components into the gateway. The gateway
// owns no tables itself; all state lives behind these components.
type DeliveryDeps struct {
	Licenses *licenses.Service
	Scripts  *scripts.Repository
	Tokens   *tokens.Broker
	Payloads *payload.Generator
	Limiter  *gatekeeper.RateLimiter
	Bans     *gatekeeper.Banlist
	Audit    *audit.Logger
	Metrics  *Metrics
	Gate     config.GateConfig
}

// DeliveryHandler is the client-facing gateway. It sequences the defense
// layers per route: banlist, rate limiter, fingerprint filter, license
// check, then token mint/burn and payload build.
type DeliveryHandler struct {
	deps DeliveryDeps
}

func NewDeliveryHandler(deps DeliveryDeps) *DeliveryHandler {
	return &DeliveryHandler{deps: deps}
}

// Authorize is step one of the two-step route: prove the license, receive an
// exchange token.
func (h *DeliveryHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	ip, deviceID, ok := h.screen(w, r)
	if !ok {
		return
	}

	deliveryHeaders(w)

	name := scripts.SanitizeName(routeParam(r, "name"))
	keyID := r.URL.Query().Get("key")
	if keyID == "" {
		h.denyLicense(w, licenses.ReasonInvalid, keyID, ip)
		return
	}

	res := h.deps.Licenses.ValidateAndConsume(keyID, deviceID)
	if !res.OK {
		h.denyLicense(w, res.Reason, keyID, ip)
		return
	}
	if res.FirstBinding {
		log.Info().Str("key", keyID).Str("ip", ip).Msg("key bound to device")
	}

	if _, err := h.deps.Scripts.Get(name); err != nil {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("-- not_found"))
		return
	}

	token := h.deps.Tokens.Mint(name, deviceID, ip)
	h.deps.Metrics.TokensMinted.Inc()
	w.Write([]byte(token))
}

// Fetch is step two: burn the token, receive the payload.
func (h *DeliveryHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	ip, deviceID, ok := h.screen(w, r)
	if !ok {
		return
	}

	deliveryHeaders(w)

	res := h.deps.Tokens.Burn(routeParam(r, "token"), deviceID, ip)
	if !res.OK {
		log.Warn().Str("reason", res.Reason).Str("ip", ip).Msg("token burn refused")
		h.deps.Audit.Record("exchange_denied", "token", "", res.Reason, ip)
		h.deps.Metrics.Denials.WithLabelValues(res.Reason).Inc()
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(payload.KickPlain(res.Reason)))
		return
	}
	h.deps.Metrics.TokensBurned.Inc()

	h.deliver(w, res.ScriptName, deviceID, ip, "fetch")
}

// Load is the one-round-trip route for callers that cannot set headers or
// make two sequential requests. It re-validates the license on every call
// with no replay protection: a narrower trust level than the token exchange,
// kept deliberately distinct.
func (h *DeliveryHandler) Load(w http.ResponseWriter, r *http.Request) {
	deliveryHeaders(w)

	ip := clientIP(r)
	if h.deps.Bans.Banned(ip) {
		writeNotFound(w)
		return
	}
	if !h.deps.Limiter.Admit(ip) {
		h.deps.Metrics.RateLimited.Inc()
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("-- rate_limited"))
		return
	}

	name := scripts.SanitizeName(routeParam(r, "name"))
	keyID := r.URL.Query().Get("key")
	deviceID := r.URL.Query().Get("hwid")

	if keyID == "" {
		h.denyLicense(w, licenses.ReasonInvalid, keyID, ip)
		return
	}
	if len(deviceID) < loadMinDeviceIDLen {
		h.deps.Metrics.Denials.WithLabelValues("missing_hwid").Inc()
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(payload.Kick("Missing HWID.")))
		return
	}

	res := h.deps.Licenses.ValidateAndConsume(keyID, deviceID)
	if !res.OK {
		h.denyLicense(w, res.Reason, keyID, ip)
		return
	}

	h.deliver(w, name, deviceID, ip, "load")
}

// Decoy traps a probe: ban the source forever and answer with the shared
// not-found page.
func (h *DeliveryHandler) Decoy(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	h.deps.Bans.Ban(ip)
	h.deps.Metrics.DecoyHits.Inc()
	h.deps.Audit.Record("decoy_hit", "source", ip, r.URL.Path, ip)
	log.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("decoy hit, source banned")
	writeNotFound(w)
}

// screen runs the layers shared by the header-authenticated routes: banlist,
// rate limiter, fingerprint filter, device identifier presence.
func (h *DeliveryHandler) screen(w http.ResponseWriter, r *http.Request) (ip, deviceID string, ok bool) {
	ip = clientIP(r)

	if h.deps.Bans.Banned(ip) {
		writeNotFound(w)
		return "", "", false
	}
	if !h.deps.Limiter.Admit(ip) {
		h.deps.Metrics.RateLimited.Inc()
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("-- rate_limited"))
		return "", "", false
	}
	if !gatekeeper.AcceptFingerprint(r.UserAgent(), h.deps.Gate.MinFingerprintLen) {
		h.deps.Metrics.Denials.WithLabelValues("fingerprint").Inc()
		writeNotFound(w)
		return "", "", false
	}

	deviceID = r.Header.Get("X-HWID")
	if len(deviceID) < h.deps.Gate.MinDeviceIDLen {
		h.deps.Metrics.Denials.WithLabelValues("missing_hwid").Inc()
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("-- missing_hwid"))
		return "", "", false
	}

	return ip, deviceID, true
}

// deliver builds and sends the payload, counting the execution exactly once.
func (h *DeliveryHandler) deliver(w http.ResponseWriter, name, deviceID, ip, route string) {
	script, err := h.deps.Scripts.Get(name)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("-- not_found"))
		return
	}

	if err := h.deps.Scripts.RecordExecution(name); err != nil {
		log.Error().Err(err).Str("script", name).Msg("execution count failed")
	}

	body := h.deps.Payloads.Build(script.Content, deviceID, !script.SkipObfuscation)
	h.deps.Metrics.Deliveries.WithLabelValues(route).Inc()
	log.Info().Str("script", name).Str("route", route).Str("ip", ip).Msg("payload delivered")
	w.Write([]byte(body))
}

func (h *DeliveryHandler) denyLicense(w http.ResponseWriter, reason licenses.Reason, keyID, ip string) {
	log.Warn().Str("code", string(reason)).Str("key", keyID).Str("ip", ip).Msg("license refused")
	h.deps.Audit.Record("license_denied", "key", keyID, string(reason), ip)
	h.deps.Metrics.Denials.WithLabelValues(string(reason)).Inc()

	msg, ok := kickMessages[reason]
	if !ok {
		msg = "Access denied."
	}
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(payload.Kick(msg)))
}

func deliveryHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func routeParam(r *http.Request, name string) string {
	ps, ok := r.Context().Value(apicontext.Params).(httprouter.Params)
	if !ok {
		return ""
	}
	return ps.ByName(name)
}
