package registry

import (
	"sync"

	"github.com/cityclaims/cityclaims/pkg/types"
)

// Public functions recognized by the decoder
const (
	FnMineTokens          = "mine-tokens"
	FnMineMany            = "mine-many"
	FnMine                = "mine"
	FnStackTokens         = "stack-tokens"
	FnStack               = "stack"
	FnClaimMiningReward   = "claim-mining-reward"
	FnClaimStackingReward = "claim-stacking-reward"
	FnTransfer            = "transfer"
)

// Read-only functions used for verification
const (
	FnCanClaimMiningReward = "can-claim-mining-reward"
	FnIsBlockWinner        = "is-block-winner"
	FnGetStackingReward    = "get-stacking-reward"
	FnGetUserID            = "get-user-id"
)

// Mainnet deployment
const (
	MIACoreV1  = "SP466FNC0P7JWTNM2R9T199QRZN1MYEDTAR0KP27.miamicoin-core-v1"
	MIATokenV1 = "SP466FNC0P7JWTNM2R9T199QRZN1MYEDTAR0KP27.miamicoin-token"
	MIACoreV2  = "SP1H1733V5MZ3SZ9XRW9FKYGEZT0JDGEB8Y634C7R.miamicoin-core-v2"
	MIATokenV2 = "SP1H1733V5MZ3SZ9XRW9FKYGEZT0JDGEB8Y634C7R.miamicoin-token-v2"
	NYCCoreV1  = "SP2H8PY27SEZ03MWRKS5XABZYQN17ETGQS3527SA5.newyorkcitycoin-core-v1"
	NYCTokenV1 = "SP2H8PY27SEZ03MWRKS5XABZYQN17ETGQS3527SA5.newyorkcitycoin-token"
	NYCCoreV2  = "SPSCWDV3RKV5ZRN1FQD84YE1NQFEDJ9R1F4DYQ11.newyorkcitycoin-core-v2"
	NYCTokenV2 = "SPSCWDV3RKV5ZRN1FQD84YE1NQFEDJ9R1F4DYQ11.newyorkcitycoin-token-v2"

	DAOUserRegistry = "SP8A9HZ3PKST0S42VM9523Z9NV42SZ026V4K39WH.ccd003-user-registry"
	DAOMiningV1     = "SP8A9HZ3PKST0S42VM9523Z9NV42SZ026V4K39WH.ccd006-citycoin-mining"
	DAOMiningV2     = "SP8A9HZ3PKST0S42VM9523Z9NV42SZ026V4K39WH.ccd006-citycoin-mining-v2"
	DAOStacking     = "SP8A9HZ3PKST0S42VM9523Z9NV42SZ026V4K39WH.ccd007-citycoin-stacking"
)

const (
	rewardCycleLength = 2100
	// daoBurnGenesis is the burn-chain height the DAO stacking contract
	// numbers cycles from; DAO cycles continue the protocol-wide count.
	daoBurnGenesis    = 666050
	daoFirstCycle     = 54
	daoActivation     = 107389
	daoV1Shutdown     = 147289
	daoV2Activation   = 147290
	legacyV2Shutdown  = daoActivation
	miaV1Activation   = 24497
	miaV1Shutdown     = 58917
	miaV2Activation   = 58921
	nycV1Activation   = 37449
	nycV1Shutdown     = 58922
	nycV2Activation   = 58925
)

func functionSet(fns ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(fns))
	for _, fn := range fns {
		set[fn] = struct{}{}
	}
	return set
}

func legacyCore(city types.City, version types.Version, contractID string) Entry {
	return Entry{
		City:       city,
		Version:    version,
		Module:     types.ModuleCore,
		ContractID: contractID,
		Functions: functionSet(FnMineTokens, FnMineMany, FnClaimMiningReward,
			FnStackTokens, FnClaimStackingReward),
		ReadOnly: ReadOnlyChecks{
			MiningCheck:   ReadOnlyCall{ContractID: contractID, Function: FnCanClaimMiningReward},
			WinnerCheck:   ReadOnlyCall{ContractID: contractID, Function: FnIsBlockWinner},
			StackingCheck: ReadOnlyCall{ContractID: contractID, Function: FnGetStackingReward},
			GetUserID:     ReadOnlyCall{ContractID: contractID, Function: FnGetUserID},
		},
	}
}

func token(city types.City, version types.Version, contractID string) Entry {
	return Entry{
		City:       city,
		Version:    version,
		Module:     types.ModuleToken,
		ContractID: contractID,
		Functions:  functionSet(FnTransfer),
	}
}

func daoMining(version types.Version, contractID string) Entry {
	return Entry{
		Version:    version,
		Module:     types.ModuleMining,
		ContractID: contractID,
		Functions:  functionSet(FnMine, FnClaimMiningReward),
		ReadOnly: ReadOnlyChecks{
			MiningCheck: ReadOnlyCall{ContractID: contractID, Function: FnIsBlockWinner},
			GetUserID:   ReadOnlyCall{ContractID: DAOUserRegistry, Function: FnGetUserID},
		},
	}
}

// MainnetEntries returns the deployed contracts. The DAO stacking contract
// is shared by both DAO generations and registered once, under DaoV1.
func MainnetEntries() []Entry {
	return []Entry{
		legacyCore(types.CityMIA, types.VersionLegacyV1, MIACoreV1),
		token(types.CityMIA, types.VersionLegacyV1, MIATokenV1),
		legacyCore(types.CityMIA, types.VersionLegacyV2, MIACoreV2),
		token(types.CityMIA, types.VersionLegacyV2, MIATokenV2),
		legacyCore(types.CityNYC, types.VersionLegacyV1, NYCCoreV1),
		token(types.CityNYC, types.VersionLegacyV1, NYCTokenV1),
		legacyCore(types.CityNYC, types.VersionLegacyV2, NYCCoreV2),
		token(types.CityNYC, types.VersionLegacyV2, NYCTokenV2),
		daoMining(types.VersionDaoV1, DAOMiningV1),
		daoMining(types.VersionDaoV2, DAOMiningV2),
		{
			Version:    types.VersionDaoV1,
			Module:     types.ModuleStacking,
			ContractID: DAOStacking,
			Functions:  functionSet(FnStack, FnClaimStackingReward),
			ReadOnly: ReadOnlyChecks{
				StackingCheck: ReadOnlyCall{ContractID: DAOStacking, Function: FnGetStackingReward},
				GetUserID:     ReadOnlyCall{ContractID: DAOUserRegistry, Function: FnGetUserID},
			},
		},
	}
}

func legacyStacking(genesis, shutdown uint64) *StackingSchedule {
	return &StackingSchedule{
		GenesisHeight: genesis,
		CycleLength:   rewardCycleLength,
		StartCycle:    1,
		EndCycle:      (shutdown - genesis) / rewardCycleLength,
	}
}

func daoStacking() *StackingSchedule {
	return &StackingSchedule{
		GenesisHeight: daoBurnGenesis,
		CycleLength:   rewardCycleLength,
		StartCycle:    daoFirstCycle,
		UseBurnHeight: true,
	}
}

// MainnetSchedules returns activation, shutdown and cycle boundaries
func MainnetSchedules() []Schedule {
	var out []Schedule
	legacy := []struct {
		city       types.City
		v1, v1Stop uint64
		v2         uint64
	}{
		{types.CityMIA, miaV1Activation, miaV1Shutdown, miaV2Activation},
		{types.CityNYC, nycV1Activation, nycV1Shutdown, nycV2Activation},
	}
	for _, l := range legacy {
		out = append(out,
			Schedule{
				City: l.city, Version: types.VersionLegacyV1,
				ActivationHeight: l.v1, ShutdownHeight: l.v1Stop,
				Stacking: legacyStacking(l.v1, l.v1Stop),
			},
			Schedule{
				City: l.city, Version: types.VersionLegacyV2,
				ActivationHeight: l.v2, ShutdownHeight: legacyV2Shutdown,
				Stacking: legacyStacking(l.v2, legacyV2Shutdown),
			},
		)
	}
	for _, city := range types.Cities {
		out = append(out,
			Schedule{
				City: city, Version: types.VersionDaoV1,
				ActivationHeight: daoActivation, ShutdownHeight: daoV1Shutdown,
				Stacking: daoStacking(),
			},
			Schedule{
				City: city, Version: types.VersionDaoV2,
				ActivationHeight: daoV2Activation,
			},
		)
	}
	return out
}

// MainnetCityIDs are the ids assigned by the DAO city registry
func MainnetCityIDs() map[types.City]uint64 {
	return map[types.City]uint64{
		types.CityMIA: 1,
		types.CityNYC: 2,
	}
}

var (
	mainnetOnce sync.Once
	mainnet     *Registry
)

// Mainnet returns the shared mainnet registry
func Mainnet() *Registry {
	mainnetOnce.Do(func() {
		r, err := New(MainnetEntries(), MainnetSchedules(), MainnetCityIDs())
		if err != nil {
			panic(err)
		}
		mainnet = r
	})
	return mainnet
}
