package state

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"basalt/native/pool"
)

// Key prefixes for pool records. Every key is hashed before it touches
// the backend, so prefixes only need to be unambiguous.
const (
	reserveListKey      = "pool/reserves"
	reservePrefix       = "pool/reserve/"
	positionsPrefix     = "pool/positions/"
	auctionPrefix       = "pool/auction/"
	backstopKey         = "pool/backstop"
	reserveEmissionPref = "pool/emission/reserve/"
	userEmissionPrefix  = "pool/emission/user/"
	balancePrefix       = "token/balance/"
	allowancePrefix     = "token/allowance/"
	oraclePricePrefix   = "oracle/price/"
)

// shareEntry is the stored form of one map slot keyed by reserve index.
// RLP has no map support, so maps round-trip through sorted slices.
type shareEntry struct {
	Index  uint32
	Amount *big.Int
}

type storedPositions struct {
	Usage      uint64
	Collateral []shareEntry
	Liability  []shareEntry
}

type storedAuction struct {
	Bid   []shareEntry
	Lot   []shareEntry
	Block uint64
}

type storedBackstop struct {
	BadDebt []shareEntry
}

func entriesFromMap(m map[uint32]*big.Int) []shareEntry {
	if len(m) == 0 {
		return nil
	}
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	entries := make([]shareEntry, 0, len(keys))
	for _, k := range keys {
		amount := m[k]
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		entries = append(entries, shareEntry{Index: k, Amount: new(big.Int).Set(amount)})
	}
	return entries
}

func mapFromEntries(entries []shareEntry) map[uint32]*big.Int {
	m := make(map[uint32]*big.Int, len(entries))
	for _, entry := range entries {
		if entry.Amount == nil {
			continue
		}
		m[entry.Index] = new(big.Int).Set(entry.Amount)
	}
	return m
}

// PoolState exposes the lending pool's persisted records through the
// hashing RLP manager. It satisfies the engine's state contract.
type PoolState struct {
	mgr *Manager
}

// NewPoolState wraps a manager with typed pool accessors.
func NewPoolState(mgr *Manager) *PoolState {
	return &PoolState{mgr: mgr}
}

func reserveKey(asset common.Address) []byte {
	return append([]byte(reservePrefix), asset.Bytes()...)
}

func positionsKey(user common.Address) []byte {
	return append([]byte(positionsPrefix), user.Bytes()...)
}

func auctionKey(auctionType pool.AuctionType, subject common.Address) []byte {
	key := []byte(fmt.Sprintf("%s%d/", auctionPrefix, auctionType))
	return append(key, subject.Bytes()...)
}

func reserveEmissionKey(tokenID uint32) []byte {
	return []byte(fmt.Sprintf("%s%d", reserveEmissionPref, tokenID))
}

func userEmissionKey(tokenID uint32, user common.Address) []byte {
	key := []byte(fmt.Sprintf("%s%d/", userEmissionPrefix, tokenID))
	return append(key, user.Bytes()...)
}

// ReserveList returns the assets registered with the pool in insertion
// order.
func (s *PoolState) ReserveList() ([]common.Address, error) {
	var list []common.Address
	if _, err := s.mgr.KVGet([]byte(reserveListKey), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// InitReserve registers a new reserve and persists its initial state.
// Re-registering an asset is rejected.
func (s *PoolState) InitReserve(reserve *pool.Reserve) error {
	if reserve == nil {
		return fmt.Errorf("state: reserve must not be nil")
	}
	list, err := s.ReserveList()
	if err != nil {
		return err
	}
	for _, asset := range list {
		if asset == reserve.Config.Asset {
			return fmt.Errorf("state: reserve %s already registered", asset.Hex())
		}
	}
	if int(reserve.Config.Index) != len(list) {
		return fmt.Errorf("state: reserve index %d out of sequence", reserve.Config.Index)
	}
	list = append(list, reserve.Config.Asset)
	if err := s.mgr.KVPut([]byte(reserveListKey), list); err != nil {
		return err
	}
	return s.PutReserve(reserve)
}

// GetReserve loads one reserve, nil when the asset is unknown.
func (s *PoolState) GetReserve(asset common.Address) (*pool.Reserve, error) {
	var reserve pool.Reserve
	ok, err := s.mgr.KVGet(reserveKey(asset), &reserve)
	if err != nil || !ok {
		return nil, err
	}
	return &reserve, nil
}

// PutReserve persists one reserve keyed by its asset.
func (s *PoolState) PutReserve(reserve *pool.Reserve) error {
	if reserve == nil {
		return fmt.Errorf("state: reserve must not be nil")
	}
	return s.mgr.KVPut(reserveKey(reserve.Config.Asset), reserve)
}

// GetPositions loads one user's share balances, nil when the user has
// never touched the pool.
func (s *PoolState) GetPositions(user common.Address) (*pool.Positions, error) {
	var stored storedPositions
	ok, err := s.mgr.KVGet(positionsKey(user), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &pool.Positions{
		Usage:      pool.ReserveUsage(stored.Usage),
		Collateral: mapFromEntries(stored.Collateral),
		Liability:  mapFromEntries(stored.Liability),
	}, nil
}

// PutPositions persists one user's share balances.
func (s *PoolState) PutPositions(user common.Address, positions *pool.Positions) error {
	if positions == nil {
		return fmt.Errorf("state: positions must not be nil")
	}
	stored := storedPositions{
		Usage:      uint64(positions.Usage),
		Collateral: entriesFromMap(positions.Collateral),
		Liability:  entriesFromMap(positions.Liability),
	}
	return s.mgr.KVPut(positionsKey(user), stored)
}

// HasAuction reports whether an auction record exists for the given
// variant and subject.
func (s *PoolState) HasAuction(auctionType pool.AuctionType, subject common.Address) (bool, error) {
	return s.mgr.KVHas(auctionKey(auctionType, subject))
}

// GetAuction loads one auction record, nil when absent.
func (s *PoolState) GetAuction(auctionType pool.AuctionType, subject common.Address) (*pool.AuctionData, error) {
	var stored storedAuction
	ok, err := s.mgr.KVGet(auctionKey(auctionType, subject), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &pool.AuctionData{
		Bid:   mapFromEntries(stored.Bid),
		Lot:   mapFromEntries(stored.Lot),
		Block: stored.Block,
	}, nil
}

// PutAuction persists one auction record.
func (s *PoolState) PutAuction(auctionType pool.AuctionType, subject common.Address, data *pool.AuctionData) error {
	if data == nil {
		return fmt.Errorf("state: auction data must not be nil")
	}
	stored := storedAuction{
		Bid:   entriesFromMap(data.Bid),
		Lot:   entriesFromMap(data.Lot),
		Block: data.Block,
	}
	return s.mgr.KVPut(auctionKey(auctionType, subject), stored)
}

// DeleteAuction removes one auction record.
func (s *PoolState) DeleteAuction(auctionType pool.AuctionType, subject common.Address) error {
	return s.mgr.KVDelete(auctionKey(auctionType, subject))
}

// GetBackstop loads the pool-wide backstop record. A fresh record is
// returned when none has been written yet.
func (s *PoolState) GetBackstop() (*pool.BackstopData, error) {
	var stored storedBackstop
	ok, err := s.mgr.KVGet([]byte(backstopKey), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return pool.NewBackstopData(), nil
	}
	return &pool.BackstopData{BadDebt: mapFromEntries(stored.BadDebt)}, nil
}

// PutBackstop persists the pool-wide backstop record.
func (s *PoolState) PutBackstop(data *pool.BackstopData) error {
	if data == nil {
		return fmt.Errorf("state: backstop data must not be nil")
	}
	return s.mgr.KVPut([]byte(backstopKey), storedBackstop{BadDebt: entriesFromMap(data.BadDebt)})
}

// GetReserveEmission loads the emission record for one reserve token,
// nil when emissions were never configured for it.
func (s *PoolState) GetReserveEmission(tokenID uint32) (*pool.ReserveEmission, error) {
	var emission pool.ReserveEmission
	ok, err := s.mgr.KVGet(reserveEmissionKey(tokenID), &emission)
	if err != nil || !ok {
		return nil, err
	}
	return &emission, nil
}

// PutReserveEmission persists the emission record for one reserve
// token.
func (s *PoolState) PutReserveEmission(tokenID uint32, emission *pool.ReserveEmission) error {
	if emission == nil {
		return fmt.Errorf("state: emission must not be nil")
	}
	return s.mgr.KVPut(reserveEmissionKey(tokenID), emission)
}

// GetUserEmission loads one user's emission record for a reserve token,
// nil when the user never held the token while emissions ran.
func (s *PoolState) GetUserEmission(tokenID uint32, user common.Address) (*pool.UserEmission, error) {
	var emission pool.UserEmission
	ok, err := s.mgr.KVGet(userEmissionKey(tokenID, user), &emission)
	if err != nil || !ok {
		return nil, err
	}
	return &emission, nil
}

// PutUserEmission persists one user's emission record for a reserve
// token.
func (s *PoolState) PutUserEmission(tokenID uint32, user common.Address, emission *pool.UserEmission) error {
	if emission == nil {
		return fmt.Errorf("state: emission must not be nil")
	}
	return s.mgr.KVPut(userEmissionKey(tokenID, user), emission)
}
