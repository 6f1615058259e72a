package auth

// Outcome classifies how a resolution attempt ended. It never crosses the
// Strategy boundary; it drives logging and metrics only.
type Outcome int

const (
	// Authenticated means a user was resolved.
	Authenticated Outcome = iota

	// MissingCredential means the token or client id was absent. No
	// downstream system was consulted.
	MissingCredential

	// MalformedCredential means extracting the credential failed.
	MalformedCredential

	// Unauthenticated means the source was consulted and knows no user
	// for this request (e.g. no login session).
	Unauthenticated

	// Rejected means the authority or store positively refused the
	// credential. This is an expected business outcome.
	Rejected

	// TransportFailure covers network errors, timeouts, non-2xx statuses
	// and undecodable responses from a remote authority.
	TransportFailure

	// LookupFailure means a local store or session layer failed.
	LookupFailure
)

var outcomeNames = [...]string{
	Authenticated:       "authenticated",
	MissingCredential:   "missing_credential",
	MalformedCredential: "malformed_credential",
	Unauthenticated:     "unauthenticated",
	Rejected:            "rejected",
	TransportFailure:    "transport_failure",
	LookupFailure:       "lookup_failure",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}
