package rpc

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"creditline/core/events"
	"creditline/native/credit"
	"creditline/native/spigot"
	"creditline/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the credit and spigot engines over a single JSON-RPC
// endpoint. Mutating methods require bearer authentication when a token or
// JWT secret is configured.
type Server struct {
	credit    *credit.Engine
	spigot    *spigot.Engine
	ledger    *spigot.Ledger
	recorder  *events.Recorder
	logger    *slog.Logger
	authToken string
	jwtSecret []byte
}

// NewServer constructs the RPC server. Authentication material is read from
// CREDITLINE_RPC_TOKEN and CREDITLINE_RPC_JWT_SECRET.
func NewServer(creditEngine *credit.Engine, spigotEngine *spigot.Engine, ledger *spigot.Ledger, recorder *events.Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	var secret []byte
	if raw := strings.TrimSpace(os.Getenv("CREDITLINE_RPC_JWT_SECRET")); raw != "" {
		secret = []byte(raw)
	}
	return &Server{
		credit:    creditEngine,
		spigot:    spigotEngine,
		ledger:    ledger,
		recorder:  recorder,
		logger:    logger,
		authToken: strings.TrimSpace(os.Getenv("CREDITLINE_RPC_TOKEN")),
		jwtSecret: secret,
	}
}

// Start serves the RPC endpoint and the prometheus metrics handler.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid request", nil)
		return
	}
	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if handler.mutating && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", nil)
		return
	}
	start := time.Now()
	result, err := handler.fn(&req)
	observability.ModuleMetrics().Observe("rpc", req.Method, start, err)
	if err != nil {
		s.logger.Warn("rpc call failed", "method", req.Method, "err", err)
		code, status := translateError(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, result)
}

type methodHandler struct {
	mutating bool
	fn       func(*RPCRequest) (interface{}, error)
}

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"credit_addCredit":        {true, s.handleAddCredit},
		"credit_increaseCredit":   {true, s.handleIncreaseCredit},
		"credit_borrow":           {true, s.handleBorrow},
		"credit_depositAndRepay":  {true, s.handleDepositAndRepay},
		"credit_depositAndClose":  {true, s.handleDepositAndClose},
		"credit_withdraw":         {true, s.handleWithdraw},
		"credit_close":            {true, s.handleClose},
		"credit_setRates":         {true, s.handleSetRates},
		"credit_accrueInterest":   {false, s.handleAccrueInterest},
		"credit_healthCheck":      {false, s.handleHealthCheck},
		"credit_outstandingDebt":  {false, s.handleOutstandingDebt},
		"credit_declareInsolvent": {true, s.handleDeclareInsolvent},
		"credit_getPosition":      {false, s.handleGetPosition},
		"line_get":                {false, s.handleGetLine},
		"line_events":             {false, s.handleEvents},

		"spigot_claimAndTrade":             {true, s.handleClaimAndTrade},
		"spigot_claimAndRepay":             {true, s.handleClaimAndRepay},
		"spigot_updateOwnerSplit":          {true, s.handleUpdateOwnerSplit},
		"spigot_releaseSpigot":             {true, s.handleReleaseSpigot},
		"spigot_sweep":                     {true, s.handleSweep},
		"spigot_updateWhitelistedFunction": {true, s.handleUpdateWhitelistedFunction},
		"spigot_addSpigot":                 {true, s.handleAddSpigot},
		"spigot_receiveRevenue":            {true, s.handleReceiveRevenue},
	}
}

// authorized validates the bearer credential. With a JWT secret configured the
// token must be a valid HS256 token; with a static token configured the values
// must match. With neither configured the endpoint is open (dev mode).
func (s *Server) authorized(r *http.Request) bool {
	if len(s.jwtSecret) == 0 && s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	token = strings.TrimSpace(token)
	if len(s.jwtSecret) > 0 {
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		return err == nil && parsed.Valid
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

func translateError(err error) (code int, status int) {
	switch {
	case errors.Is(err, credit.ErrCallerAccessDenied):
		return codeUnauthorized, http.StatusForbidden
	case errors.Is(err, credit.ErrPositionNotFound):
		return codeServerError, http.StatusNotFound
	default:
		return codeServerError, http.StatusOK
	}
}

// --- param helpers ---

func decodeParams(req *RPCRequest, v interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single params object")
	}
	return json.Unmarshal(req.Params[0], v)
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address: %w", err)
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("address must be 20 bytes")
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid position id: %w", err)
	}
	if len(decoded) != 32 {
		return id, fmt.Errorf("position id must be 32 bytes")
	}
	copy(id[:], decoded)
	return id, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}
