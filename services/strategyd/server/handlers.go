package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"gardenchain/native/controller"
	"gardenchain/native/operations"
	"gardenchain/native/strategy"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid payload: %v", err)
	}
	return nil
}

func pathAddress(r *http.Request, key string) (common.Address, error) {
	raw := chi.URLParam(r, key)
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("%s %q is not an address", key, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("%s %q is not an address", field, raw)
	}
	return common.HexToAddress(raw), nil
}

// parseAmount reads a base-unit integer. Empty input is zero.
func parseAmount(field, raw string) (*big.Int, error) {
	v, err := parseSigned(field, raw)
	if err != nil {
		return nil, err
	}
	if v.Sign() < 0 {
		return nil, badRequest("%s must not be negative", field)
	}
	return v, nil
}

func parseSigned(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, badRequest("%s %q is not an integer", field, raw)
	}
	return v, nil
}

// parseOptional is parseAmount that keeps nil for absent fields.
func parseOptional(field, raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(field, raw)
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := callerFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "missing caller")
	}
	return addr, ok
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	gardenFilter := strings.TrimSpace(r.URL.Query().Get("garden"))
	stateFilter := strings.TrimSpace(r.URL.Query().Get("state"))
	out := make([]strategyView, 0)
	for _, addr := range s.node.Engine.List() {
		details, err := s.node.Engine.GetStrategyDetails(addr)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if gardenFilter != "" && !strings.EqualFold(details.Garden.Hex(), gardenFilter) {
			continue
		}
		if stateFilter != "" && details.State().String() != stateFilter {
			continue
		}
		out = append(out, newStrategyView(details))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	details, err := s.node.Engine.GetStrategyDetails(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStrategyView(details))
}

func (s *Server) handleGetNAV(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	nav, err := s.node.Engine.GetNAV(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"strategy": addr.Hex(), "nav": amount(nav)})
}

func (s *Server) handleGetVotes(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	voter, err := pathAddress(r, "voter")
	if err != nil {
		s.writeError(w, err)
		return
	}
	votes, err := s.node.Engine.GetUserVotes(addr, voter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voteView{Voter: voter.Hex(), Power: amount(votes)})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.audit == nil {
		writeMessage(w, http.StatusNotFound, "audit store disabled")
		return
	}
	trades, err := s.audit.Trades(r.Context(), addr.Hex())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.audit == nil {
		writeMessage(w, http.StatusNotFound, "audit store disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, badRequest("limit %q invalid", raw))
			return
		}
	}
	records, err := s.audit.Events(r.Context(), addr.Hex(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListGardens(w http.ResponseWriter, _ *http.Request) {
	gardens := s.node.Gardens()
	out := make([]gardenView, 0, len(gardens))
	for _, g := range gardens {
		out = append(out, newGardenView(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetGarden(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	g, ok := s.node.Garden(addr)
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown garden")
		return
	}
	writeJSON(w, http.StatusOK, newGardenView(g))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		s.writeError(w, err)
		return
	}
	g, ok := s.node.Garden(addr)
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown garden")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account":      account.Hex(),
		"voting_power": amount(g.VotingPower(account)),
		"locked_power": amount(g.LockedVotingPower(account)),
		"claimable":    amount(g.ClaimableRewards(account)),
		"keeper_debt":  amount(g.KeeperDebt(account)),
		"balance":      amount(s.node.Book.BalanceOf(g.ReserveAsset(), account)),
	})
}

type stepRequest struct {
	Kind        string `json:"kind"`
	Integration string `json:"integration"`
	Target      string `json:"target"`
	SlippageBps uint64 `json:"slippage_bps"`
}

type proposeRequest struct {
	Garden                     string        `json:"garden"`
	Stake                      string        `json:"stake"`
	MaxCapitalRequested        string        `json:"max_capital_requested"`
	ExpectedReturn             string        `json:"expected_return"`
	DurationSeconds            int64         `json:"duration_seconds"`
	MaxAllocationPercentage    string        `json:"max_allocation_percentage"`
	MaxGasFeePercentage        string        `json:"max_gas_fee_percentage"`
	MaxTradeSlippagePercentage string        `json:"max_trade_slippage_percentage"`
	Operations                 []stepRequest `json:"operations"`
}

func (req proposeRequest) params() (strategy.Params, error) {
	var (
		p   strategy.Params
		err error
	)
	if p.Stake, err = parseAmount("stake", req.Stake); err != nil {
		return p, err
	}
	if p.MaxCapitalRequested, err = parseAmount("max_capital_requested", req.MaxCapitalRequested); err != nil {
		return p, err
	}
	if p.ExpectedReturn, err = parseAmount("expected_return", req.ExpectedReturn); err != nil {
		return p, err
	}
	if p.MaxAllocationPercentage, err = parseAmount("max_allocation_percentage", req.MaxAllocationPercentage); err != nil {
		return p, err
	}
	if p.MaxGasFeePercentage, err = parseOptional("max_gas_fee_percentage", req.MaxGasFeePercentage); err != nil {
		return p, err
	}
	if p.MaxTradeSlippagePercentage, err = parseOptional("max_trade_slippage_percentage", req.MaxTradeSlippagePercentage); err != nil {
		return p, err
	}
	if req.DurationSeconds <= 0 {
		return p, badRequest("duration_seconds must be positive")
	}
	p.Duration = time.Duration(req.DurationSeconds) * time.Second
	return p, nil
}

func (req proposeRequest) steps() ([]operations.Step, error) {
	steps := make([]operations.Step, 0, len(req.Operations))
	for i, op := range req.Operations {
		kind, err := controller.ParseKind(strings.ToLower(strings.TrimSpace(op.Kind)))
		if err != nil {
			return nil, badRequest("operations[%d]: %v", i, err)
		}
		integration, err := parseAddress(fmt.Sprintf("operations[%d].integration", i), op.Integration)
		if err != nil {
			return nil, err
		}
		target, err := parseAddress(fmt.Sprintf("operations[%d].target", i), op.Target)
		if err != nil {
			return nil, err
		}
		data, err := operations.EncodeParams(operations.Params{Target: target, SlippageBps: op.SlippageBps})
		if err != nil {
			return nil, badRequest("operations[%d]: %v", i, err)
		}
		steps = append(steps, operations.Step{Kind: kind, Integration: integration, Data: data})
	}
	return steps, nil
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req proposeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	gardenAddr, err := parseAddress("garden", req.Garden)
	if err != nil {
		s.writeError(w, err)
		return
	}
	params, err := req.params()
	if err != nil {
		s.writeError(w, err)
		return
	}
	steps, err := req.steps()
	if err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.node.Engine.Propose(caller, gardenAddr, params, steps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newStrategyView(created))
}

type resolveRequest struct {
	Voters        []string `json:"voters"`
	Powers        []string `json:"powers"`
	AbsoluteTotal string   `json:"absolute_total"`
	NetTotal      string   `json:"net_total"`
	KeeperFee     string   `json:"keeper_fee"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	voters := make([]common.Address, len(req.Voters))
	for i, raw := range req.Voters {
		if voters[i], err = parseAddress(fmt.Sprintf("voters[%d]", i), raw); err != nil {
			s.writeError(w, err)
			return
		}
	}
	powers := make([]*big.Int, len(req.Powers))
	for i, raw := range req.Powers {
		if powers[i], err = parseSigned(fmt.Sprintf("powers[%d]", i), raw); err != nil {
			s.writeError(w, err)
			return
		}
	}
	absolute, err := parseAmount("absolute_total", req.AbsoluteTotal)
	if err != nil {
		s.writeError(w, err)
		return
	}
	net, err := parseSigned("net_total", req.NetTotal)
	if err != nil {
		s.writeError(w, err)
		return
	}
	fee, err := parseAmount("keeper_fee", req.KeeperFee)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.node.Engine.ResolveVoting(caller, addr, voters, powers, absolute, net, fee); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStrategy(w, addr)
}

type executeRequest struct {
	Capital string `json:"capital"`
	Fee     string `json:"fee"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req executeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	capital, err := parseAmount("capital", req.Capital)
	if err != nil {
		s.writeError(w, err)
		return
	}
	fee, err := parseAmount("fee", req.Fee)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.node.Engine.ExecuteStrategy(caller, addr, capital, fee); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStrategy(w, addr)
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleUnwind(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.node.Engine.UnwindStrategy(caller, addr, value); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStrategy(w, addr)
}

type feeRequest struct {
	Fee string `json:"fee"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req feeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	fee, err := parseAmount("fee", req.Fee)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.node.Engine.FinalizeStrategy(caller, addr, fee); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStrategy(w, addr)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.node.Engine.ExpireCandidateStrategy(caller, addr); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStrategy(w, addr)
}

func (s *Server) writeStrategy(w http.ResponseWriter, addr common.Address) {
	details, err := s.node.Engine.GetStrategyDetails(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStrategyView(details))
}

func (s *Server) gardenAmount(w http.ResponseWriter, r *http.Request) (common.Address, common.Address, *big.Int, bool) {
	caller, ok := s.caller(w, r)
	if !ok {
		return common.Address{}, common.Address{}, nil, false
	}
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return common.Address{}, common.Address{}, nil, false
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return common.Address{}, common.Address{}, nil, false
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return common.Address{}, common.Address{}, nil, false
	}
	return addr, caller, value, true
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	gardenAddr, caller, value, ok := s.gardenAmount(w, r)
	if !ok {
		return
	}
	if err := s.node.Deposit(gardenAddr, caller, value); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeGarden(w, gardenAddr)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	gardenAddr, caller, value, ok := s.gardenAmount(w, r)
	if !ok {
		return
	}
	if err := s.node.Withdraw(gardenAddr, caller, value); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeGarden(w, gardenAddr)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	gardenAddr, err := pathAddress(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	claimed, err := s.node.ClaimRewards(gardenAddr, caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": caller.Hex(), "claimed": amount(claimed)})
}

func (s *Server) writeGarden(w http.ResponseWriter, addr common.Address) {
	g, ok := s.node.Garden(addr)
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown garden")
		return
	}
	writeJSON(w, http.StatusOK, newGardenView(g))
}

type mintRequest struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.node.Mint(token, to, value); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"to": to.Hex(), "balance": amount(s.node.Book.BalanceOf(token, to))})
}

type priceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.node.Manual.SetDecimal(asset, req.Price, s.node.Now()); err != nil {
		s.writeError(w, badRequest("price: %v", err))
		return
	}
	s.logger.Warn("manual price override", "asset", asset.Hex(), "price", req.Price)
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.Hex(), "price": req.Price})
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	module := strings.ToLower(strings.TrimSpace(req.Module))
	if module != "strategy" && module != "garden" {
		s.writeError(w, badRequest("unknown module %q", req.Module))
		return
	}
	s.node.Registry.SetPaused(module, req.Paused)
	s.logger.Warn("module pause toggled", "module", module, "paused", req.Paused)
	writeJSON(w, http.StatusOK, req)
}
