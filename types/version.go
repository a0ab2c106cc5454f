package types

// Version is the canonical project version.
// The CLI and the events stream contract share this version.
const Version = "0.2.0"

// ContractVersion is the events stream contract version.
// It moves in lockstep with Version.
const ContractVersion = Version
