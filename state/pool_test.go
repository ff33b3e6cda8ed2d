package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"basalt/native/pool"
	"basalt/storage"
)

func newTestState(t *testing.T) (*Manager, *PoolState) {
	t.Helper()
	mgr := NewManager(storage.NewMemDB())
	return mgr, NewPoolState(mgr)
}

func testReserve(asset common.Address, index uint32) *pool.Reserve {
	return &pool.Reserve{
		Config: pool.ReserveConfig{
			Asset:      asset,
			Decimals:   7,
			CFactor:    big.NewInt(9_000_000),
			LFactor:    big.NewInt(9_000_000),
			Util:       big.NewInt(7_500_000),
			RBase:      big.NewInt(100_000),
			ROne:       big.NewInt(500_000),
			RTwo:       big.NewInt(5_000_000),
			Reactivity: 100,
			Index:      index,
		},
		Data: pool.ReserveData{
			BRate:          big.NewInt(1_000_000_000),
			DRate:          big.NewInt(1_000_000_000),
			IRMod:          big.NewInt(1_000_000_000),
			BSupply:        big.NewInt(0),
			DSupply:        big.NewInt(0),
			BackstopCredit: big.NewInt(0),
			LastBlock:      0,
		},
	}
}

func TestReserveRoundTrip(t *testing.T) {
	_, st := newTestState(t)
	asset := common.HexToAddress("0x01")
	if err := st.InitReserve(testReserve(asset, 0)); err != nil {
		t.Fatalf("init reserve: %v", err)
	}
	loaded, err := st.GetReserve(asset)
	if err != nil {
		t.Fatalf("get reserve: %v", err)
	}
	if loaded == nil {
		t.Fatalf("expected reserve to exist")
	}
	if loaded.Config.Index != 0 || loaded.Config.Asset != asset {
		t.Fatalf("unexpected config: %+v", loaded.Config)
	}
	if loaded.Data.DRate.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("unexpected d rate: %s", loaded.Data.DRate)
	}
	list, err := st.ReserveList()
	if err != nil {
		t.Fatalf("reserve list: %v", err)
	}
	if len(list) != 1 || list[0] != asset {
		t.Fatalf("unexpected reserve list: %v", list)
	}
}

func TestInitReserveRejectsDuplicatesAndGaps(t *testing.T) {
	_, st := newTestState(t)
	asset := common.HexToAddress("0x01")
	if err := st.InitReserve(testReserve(asset, 0)); err != nil {
		t.Fatalf("init reserve: %v", err)
	}
	if err := st.InitReserve(testReserve(asset, 1)); err == nil {
		t.Fatalf("expected duplicate asset to be rejected")
	}
	if err := st.InitReserve(testReserve(common.HexToAddress("0x02"), 5)); err == nil {
		t.Fatalf("expected out of sequence index to be rejected")
	}
}

func TestGetReserveMissing(t *testing.T) {
	_, st := newTestState(t)
	reserve, err := st.GetReserve(common.HexToAddress("0xff"))
	if err != nil {
		t.Fatalf("get reserve: %v", err)
	}
	if reserve != nil {
		t.Fatalf("expected nil reserve, got %+v", reserve)
	}
}

func TestPositionsRoundTrip(t *testing.T) {
	_, st := newTestState(t)
	user := common.HexToAddress("0xaa")

	missing, err := st.GetPositions(user)
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil positions for new user")
	}

	positions := pool.NewPositions()
	positions.AddCollateral(0, big.NewInt(500))
	positions.AddLiability(2, big.NewInt(120))
	if err := st.PutPositions(user, positions); err != nil {
		t.Fatalf("put positions: %v", err)
	}

	loaded, err := st.GetPositions(user)
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if loaded.CollateralShares(0).Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected collateral: %s", loaded.CollateralShares(0))
	}
	if loaded.LiabilityShares(2).Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("unexpected liability: %s", loaded.LiabilityShares(2))
	}
	if !loaded.Usage.IsCollateral(0) || !loaded.Usage.IsLiability(2) {
		t.Fatalf("usage bits lost in round trip: %b", loaded.Usage)
	}
	if loaded.Usage.IsLiability(0) {
		t.Fatalf("unexpected liability bit for reserve 0")
	}
}

func TestAuctionLifecycle(t *testing.T) {
	_, st := newTestState(t)
	subject := common.HexToAddress("0xbb")

	has, err := st.HasAuction(pool.UserLiquidation, subject)
	if err != nil {
		t.Fatalf("has auction: %v", err)
	}
	if has {
		t.Fatalf("expected no auction")
	}

	data := &pool.AuctionData{
		Bid:   map[uint32]*big.Int{1: big.NewInt(200)},
		Lot:   map[uint32]*big.Int{0: big.NewInt(300), pool.BackstopTokenKey: big.NewInt(50)},
		Block: 77,
	}
	if err := st.PutAuction(pool.UserLiquidation, subject, data); err != nil {
		t.Fatalf("put auction: %v", err)
	}

	// Same subject under another variant stays independent.
	other, err := st.GetAuction(pool.BadDebtAuction, subject)
	if err != nil {
		t.Fatalf("get auction: %v", err)
	}
	if other != nil {
		t.Fatalf("expected no bad debt auction for subject")
	}

	loaded, err := st.GetAuction(pool.UserLiquidation, subject)
	if err != nil {
		t.Fatalf("get auction: %v", err)
	}
	if loaded.Block != 77 {
		t.Fatalf("unexpected block: %d", loaded.Block)
	}
	if loaded.Bid[1].Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected bid: %v", loaded.Bid)
	}
	if loaded.Lot[pool.BackstopTokenKey].Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("backstop token lot lost: %v", loaded.Lot)
	}

	if err := st.DeleteAuction(pool.UserLiquidation, subject); err != nil {
		t.Fatalf("delete auction: %v", err)
	}
	has, err = st.HasAuction(pool.UserLiquidation, subject)
	if err != nil {
		t.Fatalf("has auction: %v", err)
	}
	if has {
		t.Fatalf("auction survived deletion")
	}
}

func TestBackstopDefaultsEmpty(t *testing.T) {
	_, st := newTestState(t)
	backstop, err := st.GetBackstop()
	if err != nil {
		t.Fatalf("get backstop: %v", err)
	}
	if len(backstop.BadDebt) != 0 {
		t.Fatalf("expected empty bad debt map")
	}
	backstop.BadDebt[3] = big.NewInt(42)
	if err := st.PutBackstop(backstop); err != nil {
		t.Fatalf("put backstop: %v", err)
	}
	loaded, err := st.GetBackstop()
	if err != nil {
		t.Fatalf("get backstop: %v", err)
	}
	if loaded.BadDebt[3].Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("unexpected bad debt: %v", loaded.BadDebt)
	}
}

func TestEmissionRoundTrip(t *testing.T) {
	_, st := newTestState(t)
	user := common.HexToAddress("0xcc")

	if err := st.PutReserveEmission(3, &pool.ReserveEmission{
		EPS:        10,
		Expiration: 1000,
		Index:      big.NewInt(123),
		LastTime:   500,
	}); err != nil {
		t.Fatalf("put reserve emission: %v", err)
	}
	emission, err := st.GetReserveEmission(3)
	if err != nil {
		t.Fatalf("get reserve emission: %v", err)
	}
	if emission.EPS != 10 || emission.Index.Cmp(big.NewInt(123)) != 0 {
		t.Fatalf("unexpected emission: %+v", emission)
	}

	if err := st.PutUserEmission(3, user, &pool.UserEmission{
		Index:   big.NewInt(123),
		Accrued: big.NewInt(9),
	}); err != nil {
		t.Fatalf("put user emission: %v", err)
	}
	userEmission, err := st.GetUserEmission(3, user)
	if err != nil {
		t.Fatalf("get user emission: %v", err)
	}
	if userEmission.Accrued.Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("unexpected accrued: %s", userEmission.Accrued)
	}
}

func TestOverlayCommitAndDiscard(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	st := NewPoolState(mgr)
	asset := common.HexToAddress("0x01")

	if err := st.InitReserve(testReserve(asset, 0)); err != nil {
		t.Fatalf("init reserve: %v", err)
	}
	mgr.Discard()

	reserve, err := st.GetReserve(asset)
	if err != nil {
		t.Fatalf("get reserve: %v", err)
	}
	if reserve != nil {
		t.Fatalf("discarded write still visible")
	}

	if err := st.InitReserve(testReserve(asset, 0)); err != nil {
		t.Fatalf("init reserve: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	fresh := NewPoolState(NewManager(db))
	reserve, err = fresh.GetReserve(asset)
	if err != nil {
		t.Fatalf("get reserve: %v", err)
	}
	if reserve == nil {
		t.Fatalf("committed reserve missing from database")
	}
}

func TestLedgerTransfers(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	ledger := NewLedger(mgr)
	asset := common.HexToAddress("0x01")
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb1")

	if err := ledger.Mint(asset, alice, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(asset, alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	balance, err := ledger.BalanceOf(asset, bob)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected balance: %s", balance)
	}

	err = ledger.Transfer(asset, alice, bob, big.NewInt(601))
	if !errors.Is(err, pool.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestLedgerAllowances(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	ledger := NewLedger(mgr)
	asset := common.HexToAddress("0x01")
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb1")
	carol := common.HexToAddress("0xc1")

	if err := ledger.Mint(asset, alice, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	err := ledger.TransferFrom(asset, bob, alice, carol, big.NewInt(100))
	if !errors.Is(err, pool.ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}

	if err := ledger.Approve(asset, alice, bob, big.NewInt(250)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(asset, bob, alice, carol, big.NewInt(100)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	allowance, err := ledger.Allowance(asset, alice, bob)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("unexpected allowance: %s", allowance)
	}

	// Owners move their own funds without an allowance.
	if err := ledger.TransferFrom(asset, alice, alice, carol, big.NewInt(10)); err != nil {
		t.Fatalf("self transfer from: %v", err)
	}
}

func TestOracle(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	oracle := NewPriceOracle(mgr)
	asset := common.HexToAddress("0x01")

	price, err := oracle.GetPrice(asset)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Sign() != 0 {
		t.Fatalf("expected zero price before publish, got %s", price)
	}

	if err := oracle.SetPrice(asset, big.NewInt(0)); !errors.Is(err, pool.ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
	if err := oracle.SetPrice(asset, big.NewInt(20_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	price, err = oracle.GetPrice(asset)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(big.NewInt(20_000_000)) != 0 {
		t.Fatalf("unexpected price: %s", price)
	}
}
