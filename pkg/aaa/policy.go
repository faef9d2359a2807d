package aaa

// PolicyQuery is the decision every authorization policy must define.
const PolicyQuery = "data.fedbroker.authz.allow"

// DefaultPolicy allows local users everything and remote users whatever their
// own, trusted, member asks on their behalf. Trusted members are read from
// data.fedbroker.members.
const DefaultPolicy = `package fedbroker.authz

import rego.v1

default allow := false

trusted(member) if {
	some m in data.fedbroker.members.trusted
	m == member
}

# Users of this member acting locally.
allow if {
	input.requesting_member == input.local_member
	input.user.identity_provider == input.local_member
}

# Users of a trusted member acting through that member.
allow if {
	input.requesting_member != input.local_member
	trusted(input.requesting_member)
	input.user.identity_provider == input.requesting_member
}
`
