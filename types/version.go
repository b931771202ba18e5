package types

// Version is the canonical lmsmig version.
// It is stamped into run reports and archived records.
const Version = "0.3.0"

// ReportVersion is the run report schema version.
// Bumped in lockstep with Version.
const ReportVersion = Version
