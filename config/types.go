package config

// Bounds captures the protocol limits a strategy proposal and its keeper
// calls are checked against. Percentages are expressed in basis points.
type Bounds struct {
	MinDurationHours     uint64 `toml:"MinDurationHours"`
	MaxDurationHours     uint64 `toml:"MaxDurationHours"`
	MinStake             string `toml:"MinStake"`
	VotingWindowHours    uint64 `toml:"VotingWindowHours"`
	CooldownHours        uint64 `toml:"CooldownHours"`
	CandidatePeriodHours uint64 `toml:"CandidatePeriodHours"`
	MinVoters            int    `toml:"MinVoters"`
	MinVotesQuorumBps    uint64 `toml:"MinVotesQuorumBps"`
	MaxGasFeeBps         uint64 `toml:"MaxGasFeeBps"`
	StrategistProfitBps  uint64 `toml:"StrategistProfitBps"`
	VotersProfitBps      uint64 `toml:"VotersProfitBps"`
	ProtocolProfitBps    uint64 `toml:"ProtocolProfitBps"`
	DissenterSlashBps    uint64 `toml:"DissenterSlashBps"`
	UnwindBufferBps      uint64 `toml:"UnwindBufferBps"`
}

// Slippage holds the default tolerance per operation kind in basis points.
type Slippage struct {
	Lend    uint64 `toml:"Lend"`
	Trade   uint64 `toml:"Trade"`
	Pool    uint64 `toml:"Pool"`
	Passive uint64 `toml:"Passive"`
}

// Asset declares a token the protocol can price. Price seeds the manual feed
// and is optional when a live feed covers the asset.
type Asset struct {
	Symbol      string `toml:"Symbol"`
	Address     string `toml:"Address"`
	Price       string `toml:"Price,omitempty"`
	CoinGeckoID string `toml:"CoinGeckoID,omitempty"`
}

// Garden declares a capital pool and the asset it keeps its reserve in.
type Garden struct {
	Name    string `toml:"Name"`
	Address string `toml:"Address"`
	Reserve string `toml:"Reserve"`
}

// Integration whitelists an external protocol for one operation kind.
type Integration struct {
	Name    string `toml:"Name"`
	Kind    string `toml:"Kind"`
	Address string `toml:"Address"`
	// Default marks the trade integration used for conversion legs.
	Default bool `toml:"Default,omitempty"`
	// FeeBps and AprBps configure the reference integrations strategyd runs.
	FeeBps uint64 `toml:"FeeBps,omitempty"`
	AprBps uint64 `toml:"AprBps,omitempty"`
	// Pools lists the asset symbol pairs a pool integration opens.
	Pools [][]string `toml:"Pools,omitempty"`
	// Vaults lists the underlying asset symbols a passive integration opens.
	Vaults []string `toml:"Vaults,omitempty"`
}

// Oracle configures the price aggregator.
type Oracle struct {
	Priority          []string `toml:"Priority"`
	MaxAgeSeconds     uint64   `toml:"MaxAgeSeconds"`
	CoinGeckoEndpoint string   `toml:"CoinGeckoEndpoint,omitempty"`
}

// Pauses mirrors the module pause switches of the controller.
type Pauses struct {
	Strategy bool `toml:"Strategy"`
	Garden   bool `toml:"Garden"`
}
