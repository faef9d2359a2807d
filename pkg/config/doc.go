// Package config loads the configuration of a federation member.
//
// A member file is YAML (.yaml, .yml) or CUE (.cue). CUE files are first
// unified with the closed #Member schema, so type errors and unknown keys are
// reported with file positions; the concrete result then goes through the
// same YAML decoder. Values are applied on top of Default, then FEDBROKER_*
// environment variables override single fields:
//
//	FEDBROKER_MEMBER_ID        member.id
//	FEDBROKER_LISTEN_ADDRESS   member.listen_address
//	FEDBROKER_PEERS            federation.peers, as id=address,id=address
//	FEDBROKER_INSECURE         federation.insecure
//	FEDBROKER_CERT_FILE        federation.cert_file (also KEY_FILE, CA_FILE)
//	FEDBROKER_STORE_PATH       store.path
//	FEDBROKER_TOKEN_SECRET     auth.token_secret
//	FEDBROKER_POLICY_FILE      auth.policy_file
//	FEDBROKER_LOG_LEVEL        telemetry.logging.level (also LOG_FORMAT)
//
// Validation uses go-playground/validator struct tags plus the rules that
// span fields.
//
// A minimal YAML member:
//
//	member:
//	  id: member-a
//	  listen_address: 0.0.0.0:7443
//	federation:
//	  insecure: true
//	  peers:
//	    member-b: member-b.example.org:7443
//	auth:
//	  token_secret: change-me-to-32-random-bytes
//	  trusted_members: [member-b]
package config
