package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"basalt/config"
	"basalt/native/pool"
	"basalt/observability"
	"basalt/state"
	"basalt/storage"
)

// blockSeconds fixes the sequence cadence the node derives block
// heights from.
const blockSeconds = 5

var genesisKey = []byte("chain/genesis")

// node owns the pool engine and its persistence. Engine invocations are
// serialised; each one commits or discards atomically.
type node struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observability.PoolMetrics

	mu      sync.Mutex
	mgr     *state.Manager
	st      *state.PoolState
	ledger  *state.Ledger
	oracle  *state.PriceOracle
	engine  *pool.Engine
	genesis uint64
}

func newNode(cfg *config.Config, db storage.Database, log *slog.Logger) (*node, error) {
	mgr := state.NewManager(db)
	n := &node{
		cfg:     cfg,
		log:     log,
		metrics: observability.Pool(),
		mgr:     mgr,
		st:      state.NewPoolState(mgr),
		ledger:  state.NewLedger(mgr),
		oracle:  state.NewPriceOracle(mgr),
	}

	engine := pool.NewEngine(
		common.HexToAddress(cfg.Pool.PoolAddress),
		common.HexToAddress(cfg.Pool.BackstopAddress),
		common.HexToAddress(cfg.Pool.BackstopToken),
		big.NewInt(cfg.Pool.BackstopRate),
		big.NewInt(cfg.Pool.LiquidationBonus),
	)
	engine.SetState(n.st)
	engine.SetOracle(n.oracle)
	engine.SetTokenLedger(n.ledger)
	engine.SetEmitter(n)
	n.engine = engine

	if err := n.bootstrap(); err != nil {
		n.mgr.Discard()
		return nil, err
	}
	if err := n.mgr.Commit(); err != nil {
		return nil, err
	}
	return n, nil
}

// bootstrap pins the genesis timestamp and registers configured
// reserves that are not in state yet.
func (n *node) bootstrap() error {
	ok, err := n.mgr.KVGet(genesisKey, &n.genesis)
	if err != nil {
		return err
	}
	if !ok {
		n.genesis = uint64(time.Now().Unix())
		if err := n.mgr.KVPut(genesisKey, n.genesis); err != nil {
			return err
		}
	}

	list, err := n.st.ReserveList()
	if err != nil {
		return err
	}
	known := make(map[common.Address]struct{}, len(list))
	for _, asset := range list {
		known[asset] = struct{}{}
	}
	for _, rc := range n.cfg.Reserves {
		asset := common.HexToAddress(rc.Asset)
		if _, exists := known[asset]; exists {
			continue
		}
		index := uint32(len(known))
		reserve := pool.NewReserve(pool.ReserveConfig{
			Asset:      asset,
			Decimals:   rc.Decimals,
			CFactor:    big.NewInt(rc.CFactor),
			LFactor:    big.NewInt(rc.LFactor),
			Util:       big.NewInt(rc.Util),
			RBase:      big.NewInt(rc.RBase),
			ROne:       big.NewInt(rc.ROne),
			RTwo:       big.NewInt(rc.RTwo),
			Reactivity: rc.Reactivity,
			Index:      index,
		})
		if err := n.st.InitReserve(reserve); err != nil {
			return err
		}
		known[asset] = struct{}{}
		n.log.Info("reserve registered", "asset", asset.Hex(), "index", index)
	}
	return nil
}

func (n *node) height() uint64 {
	now := uint64(time.Now().Unix())
	if now <= n.genesis {
		return 0
	}
	return (now - n.genesis) / blockSeconds
}

// Emit satisfies the engine's event sink by logging every protocol
// event and feeding the auction counters.
func (n *node) Emit(event *pool.Event) {
	if event == nil {
		return
	}
	args := make([]any, 0, len(event.Attributes)*2)
	for k, v := range event.Attributes {
		args = append(args, k, v)
	}
	n.log.Info(event.Type, args...)
}

// invoke serialises one engine action and commits its writes only on
// success.
func (n *node) invoke(action string, fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	start := time.Now()
	n.engine.SetBlockHeight(n.height())
	n.engine.SetTimestamp(uint64(time.Now().Unix()))

	err := fn()
	if err != nil {
		n.mgr.Discard()
	} else if commitErr := n.mgr.Commit(); commitErr != nil {
		err = commitErr
	}
	n.metrics.ObserveAction(action, err, time.Since(start))
	return err
}

// view serialises a read-only engine call and always discards.
func (n *node) view(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetBlockHeight(n.height())
	n.engine.SetTimestamp(uint64(time.Now().Unix()))
	err := fn()
	n.mgr.Discard()
	return err
}

func (n *node) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/reserves", n.handleReserveList)
		r.Get("/reserves/{asset}", n.handleReserve)
		r.Get("/positions/{address}", n.handlePosition)

		r.Post("/supply", n.handleAction("supply", n.engine.Supply))
		r.Post("/withdraw", n.handleAction("withdraw", n.engine.Withdraw))
		r.Post("/borrow", n.handleAction("borrow", n.engine.Borrow))
		r.Post("/repay", n.handleAction("repay", n.engine.Repay))

		r.Post("/auctions", n.handleAuctionCreate)
		r.Post("/auctions/liquidation", n.handleLiquidationCreate)
		r.Delete("/auctions/liquidation/{address}", n.handleLiquidationDelete)
		r.Post("/auctions/fill", n.handleAuctionFill)
		r.Get("/auctions/{type}/{address}", n.handleAuctionPreview)

		r.Post("/emissions/config", n.handleEmissionConfig)
		r.Post("/emissions/claim", n.handleEmissionClaim)

		r.Post("/oracle/price", n.handleSetPrice)
		r.Post("/tokens/mint", n.handleMint)
		r.Post("/tokens/approve", n.handleApprove)
	})
	return r
}

type actionRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type actionResponse struct {
	Result string `json:"result"`
}

// handleAction adapts the four share-moving engine calls, which all
// share a (user, asset, amount) shape.
func (n *node) handleAction(name string, call func(common.Address, common.Address, *big.Int) (*big.Int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actionRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, n.log, err)
			return
		}
		user, err := parseAddress("user", req.User)
		if err != nil {
			writeError(w, n.log, err)
			return
		}
		asset, err := parseAddress("asset", req.Asset)
		if err != nil {
			writeError(w, n.log, err)
			return
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, n.log, err)
			return
		}

		var result *big.Int
		err = n.invoke(name, func() error {
			var callErr error
			result, callErr = call(user, asset, amount)
			return callErr
		})
		if err != nil {
			writeError(w, n.log, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Result: result.String()})
	}
}

type reserveView struct {
	Asset          string `json:"asset"`
	Index          uint32 `json:"index"`
	BRate          string `json:"b_rate"`
	DRate          string `json:"d_rate"`
	IRMod          string `json:"ir_mod"`
	BSupply        string `json:"b_supply"`
	DSupply        string `json:"d_supply"`
	BackstopCredit string `json:"backstop_credit"`
	Utilization    string `json:"utilization"`
	LastBlock      uint64 `json:"last_block"`
}

func newReserveView(reserve *pool.Reserve) (reserveView, error) {
	util, err := reserve.Utilization()
	if err != nil {
		return reserveView{}, err
	}
	return reserveView{
		Asset:          reserve.Config.Asset.Hex(),
		Index:          reserve.Config.Index,
		BRate:          reserve.Data.BRate.String(),
		DRate:          reserve.Data.DRate.String(),
		IRMod:          reserve.Data.IRMod.String(),
		BSupply:        reserve.Data.BSupply.String(),
		DSupply:        reserve.Data.DSupply.String(),
		BackstopCredit: reserve.Data.BackstopCredit.String(),
		Utilization:    util.String(),
		LastBlock:      reserve.Data.LastBlock,
	}, nil
}

func (n *node) handleReserveList(w http.ResponseWriter, r *http.Request) {
	var views []reserveView
	err := n.view(func() error {
		list, err := n.st.ReserveList()
		if err != nil {
			return err
		}
		views = make([]reserveView, 0, len(list))
		for _, asset := range list {
			reserve, err := n.st.GetReserve(asset)
			if err != nil {
				return err
			}
			if reserve == nil {
				continue
			}
			view, err := newReserveView(reserve)
			if err != nil {
				return err
			}
			views = append(views, view)
		}
		return nil
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (n *node) handleReserve(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	var view reserveView
	err = n.view(func() error {
		reserve, err := n.st.GetReserve(asset)
		if err != nil {
			return err
		}
		if reserve == nil {
			return pool.ErrReserveNotFound
		}
		view, err = newReserveView(reserve)
		return err
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type positionView struct {
	CollateralBase string `json:"collateral_base"`
	LiabilityBase  string `json:"liability_base"`
	Healthy        bool   `json:"healthy"`
}

func (n *node) handlePosition(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	var view positionView
	err = n.view(func() error {
		data, err := n.engine.PositionOf(user)
		if err != nil {
			return err
		}
		view = positionView{
			CollateralBase: data.CollateralBase.String(),
			LiabilityBase:  data.LiabilityBase.String(),
			Healthy:        data.Healthy(),
		}
		return nil
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type auctionView struct {
	Bid   []assetAmountView `json:"bid"`
	Lot   []assetAmountView `json:"lot"`
	Block uint64            `json:"block"`
}

type assetAmountView struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func newAuctionView(quote *pool.AuctionQuote) auctionView {
	view := auctionView{Block: quote.Block}
	for _, entry := range quote.Bid {
		view.Bid = append(view.Bid, assetAmountView{Asset: entry.Asset.Hex(), Amount: entry.Amount.String()})
	}
	for _, entry := range quote.Lot {
		view.Lot = append(view.Lot, assetAmountView{Asset: entry.Asset.Hex(), Amount: entry.Amount.String()})
	}
	return view
}

type auctionCreateRequest struct {
	Type uint32 `json:"type"`
}

func (n *node) handleAuctionCreate(w http.ResponseWriter, r *http.Request) {
	var req auctionCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, n.log, err)
		return
	}
	err := n.invoke("auction_create", func() error {
		_, err := n.engine.Create(pool.AuctionType(req.Type))
		return err
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	n.metrics.ObserveAuction(auctionTypeLabel(pool.AuctionType(req.Type)), "created")
	w.WriteHeader(http.StatusCreated)
}

type liquidationRequest struct {
	User       string            `json:"user"`
	Collateral map[string]string `json:"collateral"`
	Liability  map[string]string `json:"liability"`
}

func (n *node) handleLiquidationCreate(w http.ResponseWriter, r *http.Request) {
	var req liquidationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, n.log, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	metadata := pool.LiquidationMetadata{
		Collateral: make(map[common.Address]*big.Int, len(req.Collateral)),
		Liability:  make(map[common.Address]*big.Int, len(req.Liability)),
	}
	for raw, amountStr := range req.Collateral {
		asset, err := parseAddress("collateral asset", raw)
		if err != nil {
			writeError(w, n.log, err)
			return
		}
		amount, err := parseAmount(amountStr)
		if err != nil {
			writeError(w, n.log, err)
			return
		}
		metadata.Collateral[asset] = amount
	}
	for raw, amountStr := range req.Liability {
		asset, err := parseAddress("liability asset", raw)
		if err != nil {
			writeError(w, n.log, err)
			return
		}
		amount, err := parseAmount(amountStr)
		if err != nil {
			writeError(w, n.log, err)
			return
		}
		metadata.Liability[asset] = amount
	}

	err = n.invoke("liquidation_create", func() error {
		_, err := n.engine.CreateLiquidation(user, metadata)
		return err
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	n.metrics.ObserveAuction(auctionTypeLabel(pool.UserLiquidation), "created")
	w.WriteHeader(http.StatusCreated)
}

func (n *node) handleLiquidationDelete(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	err = n.invoke("liquidation_delete", func() error {
		return n.engine.DeleteLiquidation(user)
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	n.metrics.ObserveAuction(auctionTypeLabel(pool.UserLiquidation), "deleted")
	w.WriteHeader(http.StatusNoContent)
}

type auctionFillRequest struct {
	Type    uint32 `json:"type"`
	Subject string `json:"subject"`
	Filler  string `json:"filler"`
}

func (n *node) handleAuctionFill(w http.ResponseWriter, r *http.Request) {
	var req auctionFillRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, n.log, err)
		return
	}
	subject, err := parseAddress("subject", req.Subject)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	filler, err := parseAddress("filler", req.Filler)
	if err != nil {
		writeError(w, n.log, err)
		return
	}

	var quote *pool.AuctionQuote
	err = n.invoke("auction_fill", func() error {
		var fillErr error
		quote, fillErr = n.engine.Fill(pool.AuctionType(req.Type), subject, filler)
		return fillErr
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	n.metrics.ObserveAuction(auctionTypeLabel(pool.AuctionType(req.Type)), "filled")
	writeJSON(w, http.StatusOK, newAuctionView(quote))
}

func (n *node) handleAuctionPreview(w http.ResponseWriter, r *http.Request) {
	auctionType, err := parseAuctionType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	subject, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	var quote *pool.AuctionQuote
	err = n.view(func() error {
		var previewErr error
		quote, previewErr = n.engine.PreviewFill(auctionType, subject)
		return previewErr
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuctionView(quote))
}

type emissionConfigRequest struct {
	Token      uint32 `json:"token"`
	EPS        uint64 `json:"eps"`
	Expiration uint64 `json:"expiration"`
}

func (n *node) handleEmissionConfig(w http.ResponseWriter, r *http.Request) {
	var req emissionConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, n.log, err)
		return
	}
	err := n.invoke("emissions_config", func() error {
		return n.engine.SetEmissionConfig(req.Token, req.EPS, req.Expiration)
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Result: "ok"})
}

type emissionClaimRequest struct {
	User   string   `json:"user"`
	Tokens []uint32 `json:"tokens"`
}

func (n *node) handleEmissionClaim(w http.ResponseWriter, r *http.Request) {
	var req emissionClaimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, n.log, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	var claimed *big.Int
	err = n.invoke("emissions_claim", func() error {
		var claimErr error
		claimed, claimErr = n.engine.ClaimEmissions(user, req.Tokens)
		return claimErr
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Result: claimed.String()})
}

type priceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

func (n *node) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, n.log, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	err = n.invoke("oracle_set_price", func() error {
		return n.oracle.SetPrice(asset, price)
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mintRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (n *node) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, n.log, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	err = n.invoke("token_mint", func() error {
		return n.ledger.Mint(asset, to, amount)
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type approveRequest struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (n *node) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, n.log, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	err = n.invoke("token_approve", func() error {
		return n.ledger.Approve(asset, owner, spender, amount)
	})
	if err != nil {
		writeError(w, n.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const requestBodyLimit = 1 << 20 // 1 MiB

func decodeBody(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestBodyLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: decode body: %v", pool.ErrBadRequest, err)
	}
	return nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s is not a hex address", pool.ErrBadRequest, field)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount is not a decimal integer", pool.ErrBadRequest)
	}
	return amount, nil
}

func parseAuctionType(value string) (pool.AuctionType, error) {
	switch value {
	case "liquidation":
		return pool.UserLiquidation, nil
	case "bad-debt":
		return pool.BadDebtAuction, nil
	case "interest":
		return pool.InterestAuction, nil
	}
	return 0, fmt.Errorf("%w: unknown auction type %q", pool.ErrBadRequest, value)
}

func auctionTypeLabel(t pool.AuctionType) string {
	switch t {
	case pool.UserLiquidation:
		return "liquidation"
	case pool.BadDebtAuction:
		return "bad_debt"
	case pool.InterestAuction:
		return "interest"
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pool.ErrBadRequest), errors.Is(err, pool.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, pool.ErrReserveNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pool.ErrInvalidHealthFactor),
		errors.Is(err, pool.ErrHealthCheckFailed),
		errors.Is(err, pool.ErrInsufficientBalance),
		errors.Is(err, pool.ErrInsufficientAllowance),
		errors.Is(err, pool.ErrInsufficientShares),
		errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrNoDebt):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
