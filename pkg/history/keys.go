package history

import (
	"fmt"
	"sort"

	"github.com/rzbill/lambdeploy/pkg/types"
)

// Keys sort by start time within a target:
//
//	run/<target>/<unix nanos, zero padded>/<run id>
//	pending/<target>
//	artifact/<target>
func runKey(run types.DeploymentResult) []byte {
	return []byte(fmt.Sprintf("run/%s/%020d/%s", run.Target, run.StartedAt.UnixNano(), run.RunID))
}

func runPrefix(target string) []byte {
	if target == "" {
		return []byte("run/")
	}
	return []byte("run/" + target + "/")
}

func pendingKey(target string) []byte {
	return []byte("pending/" + target)
}

func artifactKey(target string) []byte {
	return []byte("artifact/" + target)
}

// seekEnd is the first key after every key with prefix, for reverse
// iteration.
func seekEnd(prefix []byte) []byte {
	return append(append([]byte{}, prefix...), 0xff)
}

func sortNewestFirst(runs []types.DeploymentResult) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}
