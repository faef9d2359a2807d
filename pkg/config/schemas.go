package config

// memberSchema constrains CUE member files. #Member is closed, so a
// misspelled key fails instead of being ignored.
const memberSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#MemberID: string & =~"^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$"

#Image: {
	id:           string & != ""
	name?:        string
	size_mb?:     int & >=0
	min_disk_gb?: int & >=0
	min_ram_mb?:  int & >=0
	status?:      "active" | "queued" | "saving" | "killed" | "deleted"
}

#Member: {
	member: {
		id:              #MemberID
		listen_address?: string
	}

	federation?: {
		peers?: [string]: string
		call_timeout?:    #Duration
		insecure?:        bool
		cert_file?:       string
		key_file?:        string
		ca_file?:         string
		notify_attempts?: int & >0
		notify_backoff?:  #Duration
	}

	store?: {
		path?:           string
		max_open_conns?: int & >=0
	}

	processors?: {
		interval?: #Duration
		intervals?: ["OPEN" | "PENDING" | "SPAWNING" | "FULFILLED" | "FAILED_ON_REQUEST" | "FAILED_AFTER_SUCCESSFUL_REQUEST" | "CLOSED"]: #Duration
	}

	auth?: {
		token_secret?:    string
		issuers?:         [...string]
		policy_file?:     string
		watch_policy?:    bool
		trusted_members?: [...#MemberID]
	}

	cloud?: {
		ready_after?: int & >=0
		capacity?: [string]: int & >=0
		images?: [...#Image]
	}

	telemetry?: {...}
}
`
