// Package aaa authenticates federation users and authorizes their operations.
//
// User tokens are JWTs signed with a secret shared by the federation. The
// subject is the user id and the issuer is the member acting as the user's
// identity provider. Authorization is a Rego policy evaluated with OPA; the
// decision is data.fedbroker.authz.allow. A policy file can be watched and
// is reloaded on change.
package aaa
