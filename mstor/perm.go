package mstor

import "github.com/redfish/redfish/rerr"

// checkPerm checks world bit, then owner bit (if the requester is the
// owner), then group bit (if the requester is a member), else EPERM.
// There is no user/group database: membership is a direct string
// comparison against the node's recorded owner/group.
func checkPerm(n Node, user, group string, bit uint16) error {
	if n.ModeAndType&bit != 0 {
		return nil
	}
	if user == n.Owner && (n.ModeAndType>>6)&bit != 0 {
		return nil
	}
	if group == n.Group && (n.ModeAndType>>3)&bit != 0 {
		return nil
	}
	return rerr.New("mstor.checkPerm", rerr.Perm, "permission denied")
}
