package pool

// MaxReserves bounds the number of reserves addressable by one usage
// bitmask. Two bits are packed per reserve index.
const MaxReserves = 32

// ReserveUsage is a compact per-user bitmask recording which reserves
// the user holds an active collateral or liability position in. The
// collateral bit for reserve i lives at 2i and the liability bit at
// 2i+1. A set bit means the corresponding share balance may be
// non-zero; readers must tolerate a stale set bit over a zero balance.
type ReserveUsage uint64

func (u ReserveUsage) IsCollateral(index uint32) bool {
	return u&(1<<(2*index)) != 0
}

func (u ReserveUsage) IsLiability(index uint32) bool {
	return u&(1<<(2*index+1)) != 0
}

// IsActive reports whether either position bit is set for the reserve.
func (u ReserveUsage) IsActive(index uint32) bool {
	return u&(3<<(2*index)) != 0
}

func (u *ReserveUsage) SetCollateral(index uint32, active bool) {
	if active {
		*u |= 1 << (2 * index)
	} else {
		*u &^= 1 << (2 * index)
	}
}

func (u *ReserveUsage) SetLiability(index uint32, active bool) {
	if active {
		*u |= 1 << (2*index + 1)
	} else {
		*u &^= 1 << (2*index + 1)
	}
}

// SupplyTokenID returns the emission token identifier for a reserve's
// supply side. Liability tokens occupy the even identifiers.
func SupplyTokenID(index uint32) uint32 { return index*2 + 1 }

// LiabilityTokenID returns the emission token identifier for a
// reserve's debt side.
func LiabilityTokenID(index uint32) uint32 { return index * 2 }
