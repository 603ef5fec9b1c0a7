package shared

// DiscrepancyScanLockKey is the redis lock key guarding the discrepancy scan.
const DiscrepancyScanLockKey = "wakala:discrepancy_scan:lock"
