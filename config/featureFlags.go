package config

import (
	"os"
	"strings"
)

// DistributedSubmitLock makes submissions take a redis lock instead of an in-process one,
// for running more than one facade instance against the same drafts.
//
// Set via env:
// - DISTRIBUTED_SUBMIT_LOCK=true
func DistributedSubmitLock() bool {
	return envBool("DISTRIBUTED_SUBMIT_LOCK")
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
