package envelope

import (
	"fmt"
	"regexp"
	"strconv"
)

const normalAttrName = "token"

var branchAttrPattern = regexp.MustCompile(`^token_branch(\d+)$`)

// BranchAttrName returns "token_branch{N}", the attribute name used when a
// token is being sent to a Join's T_in as its Nth branch (§4.1, §4.5).
func BranchAttrName(branch int) string {
	return fmt.Sprintf("token_branch%d", branch)
}

// NormalAttrName is the attribute name for non-join arrivals.
func NormalAttrName() string { return normalAttrName }

// ParseBranchAttrName returns the branch number encoded in a
// "token_branch{N}" attribute name, or ok=false if name is the plain
// "token" attribute or otherwise unrecognized.
func ParseBranchAttrName(name string) (branch int, ok bool) {
	m := branchAttrPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
